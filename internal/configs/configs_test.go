package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medimart/internal/app/user"
)

func envOf(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoad_DevelopmentDefaults(t *testing.T) {
	cfg, err := load(envOf(nil))
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, []user.Role{user.RoleDoctor}, cfg.PresenceRoles)
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.False(t, cfg.StorageEnabled())
}

func TestLoad_ProductionRequiresSecretAndStore(t *testing.T) {
	_, err := load(envOf(map[string]string{"ENVIRONMENT": "production"}))
	assert.ErrorContains(t, err, "JWT_SECRET")

	_, err = load(envOf(map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s"}))
	assert.ErrorContains(t, err, "STORE_DRIVER")

	cfg, err := load(envOf(map[string]string{
		"ENVIRONMENT":     "production",
		"JWT_SECRET":      "s",
		"DATABASE_URL":    "postgres://localhost/medimart",
		"ALLOWED_ORIGINS": "https://a.example, ,https://b.example",
		"PRESENCE_ROLES":  "doctor,pharmacist",
	}))
	require.NoError(t, err)
	assert.Equal(t, StoreDriverPostgres, cfg.StoreDriver)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, []user.Role{user.RoleDoctor, user.RolePharmacist}, cfg.PresenceRoles)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad port", map[string]string{"PORT": "http"}, "PORT"},
		{"privileged port", map[string]string{"PORT": "80"}, "outside"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "redis"}, "unsupported STORE_DRIVER"},
		{"mongo without uri", map[string]string{"STORE_DRIVER": "mongo"}, "MONGO_URI"},
		{"bad presence role", map[string]string{"PRESENCE_ROLES": "nurse"}, "PRESENCE_ROLES"},
		{"partial s3", map[string]string{"S3_BUCKET_NAME": "media"}, "S3_ACCESS_KEY_ID"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(envOf(tc.env))
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoad_MongoDefaults(t *testing.T) {
	cfg, err := load(envOf(map[string]string{"MONGO_URI": "mongodb://localhost:27017"}))
	require.NoError(t, err)

	assert.Equal(t, StoreDriverMongo, cfg.StoreDriver)
	assert.Equal(t, "medimart", cfg.MongoDatabase)
}
