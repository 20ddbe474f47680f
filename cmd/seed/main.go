package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/argon2"

	"github.com/olucodehub/2aside-platform-sub000/libs/apikey"
)

const (
	opsKeyPrefix = "ops00001"
	opsKeySecret = "opssecret0001"
)

func main() {
	env := getEnv("ASIDE_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: ASIDE_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "aside_merge")
	user := getEnv("POSTGRES_USER", "aside")
	password := getEnv("POSTGRES_PASSWORD", "aside")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	if err := seedUsers(ctx, pool); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if err := seedWalletAccounts(ctx, pool); err != nil {
		log.Fatalf("seed wallet accounts: %v", err)
	}
	fmt.Println("✓ Wallet accounts seeded")

	if err := seedAdminWallets(ctx, pool); err != nil {
		log.Fatalf("seed admin wallets: %v", err)
	}
	fmt.Println("✓ Admin wallets seeded")

	opsKey, err := seedAdminAPIKey(ctx, pool, env)
	if err != nil {
		log.Fatalf("seed admin api key: %v", err)
	}
	fmt.Println("✓ Admin API key seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	fmt.Println("  Email: demo@example.com")
	fmt.Println("  Password: demo123")
	fmt.Println("  Email: trader@example.com")
	fmt.Println("  Password: trader123")

	if env == "dev" {
		fmt.Println("\nOperator API Key (DEV ONLY):")
		fmt.Printf("  %s\n", opsKey)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) error {
	demoID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderID := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	adminID := uuid.MustParse("00000000-0000-0000-0000-000000000009")

	params := argon2Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}

	users := []struct {
		id       uuid.UUID
		email    string
		password string
		roles    []string
	}{
		{demoID, "demo@example.com", "demo123", []string{"user"}},
		{traderID, "trader@example.com", "trader123", []string{"user"}},
		{adminID, "ops@example.com", "ops123", []string{"user", "admin"}},
	}

	now := time.Now()
	for _, u := range users {
		hash, err := hashPassword(u.password, params)
		if err != nil {
			return fmt.Errorf("hash password for %s: %w", u.email, err)
		}
		rolesJSON, _ := json.Marshal(u.roles)

		_, err = pool.Exec(ctx, `
			INSERT INTO users (id, email, password_hash, roles, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
			ON CONFLICT (email) DO UPDATE
			SET roles = EXCLUDED.roles,
			    status = EXCLUDED.status,
			    updated_at = EXCLUDED.updated_at
		`, u.id, u.email, hash, rolesJSON, "active", now, now)
		if err != nil {
			return err
		}
	}

	return nil
}

func seedWalletAccounts(ctx context.Context, pool *pgxpool.Pool) error {
	demoID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	traderID := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	balances := []struct {
		ownerID  uuid.UUID
		currency string
		balance  string
	}{
		{demoID, "naira", "250000"},
		{demoID, "usdt", "1500"},
		{traderID, "naira", "900000"},
		{traderID, "usdt", "4000"},
	}

	now := time.Now()
	for _, b := range balances {
		_, err := pool.Exec(ctx, `
			INSERT INTO wallet_accounts (id, owner_id, currency, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (owner_id, currency) DO UPDATE
			SET balance = EXCLUDED.balance,
			    updated_at = EXCLUDED.updated_at
		`, uuid.New(), b.ownerID, b.currency, b.balance, now, now)
		if err != nil {
			return err
		}
	}

	return nil
}

func seedAdminWallets(ctx context.Context, pool *pgxpool.Pool) error {
	wallets := []struct {
		id       uuid.UUID
		currency string
		balance  string
	}{
		{uuid.MustParse("00000000-0000-0000-0000-000000000501"), "naira", "5000000"},
		{uuid.MustParse("00000000-0000-0000-0000-000000000502"), "usdt", "20000"},
	}

	now := time.Now()
	for _, w := range wallets {
		_, err := pool.Exec(ctx, `
			INSERT INTO admin_wallets (id, currency, balance, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (currency) DO UPDATE
			SET balance = EXCLUDED.balance,
			    updated_at = EXCLUDED.updated_at
		`, w.id, w.currency, w.balance, now, now)
		if err != nil {
			return err
		}
	}

	return nil
}

func seedAdminAPIKey(ctx context.Context, pool *pgxpool.Pool, env string) (string, error) {
	adminID := uuid.MustParse("00000000-0000-0000-0000-000000000009")
	keyID := uuid.MustParse("00000000-0000-0000-0000-000000000201")

	fullKey := fmt.Sprintf("mk_%s_%s.%s", env, opsKeyPrefix, opsKeySecret)
	hash := apikey.Hash(opsKeyPrefix, opsKeySecret)

	scopes := []string{"admin"}
	ipWhitelist := []string{}
	ipJSON, _ := json.Marshal(ipWhitelist)
	now := time.Now()

	_, err := pool.Exec(ctx, `
		INSERT INTO admin_api_keys (id, user_id, key_prefix, key_hash, scopes, ip_whitelist, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8)
		ON CONFLICT (key_prefix) DO UPDATE
		SET user_id = EXCLUDED.user_id,
		    key_hash = EXCLUDED.key_hash,
		    scopes = EXCLUDED.scopes,
		    ip_whitelist = EXCLUDED.ip_whitelist,
		    revoked_at = NULL,
		    updated_at = EXCLUDED.updated_at
	`, keyID, adminID, opsKeyPrefix, hash, scopes, ipJSON, now, now)
	if err != nil {
		return "", err
	}

	return fullKey, nil
}
