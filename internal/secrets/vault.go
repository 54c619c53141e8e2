// Package secrets stores the credentials the engine dials out with —
// provider API keys, agent endpoint tokens — encrypted at rest in SQLite
// with NaCl secretbox.
package secrets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"

	cfotel "github.com/caseflow-io/caseflow/internal/otel"
)

var tracer = cfotel.Tracer("github.com/caseflow-io/caseflow/internal/secrets")

var (
	// ErrSecretNotFound is returned when a secret name does not exist.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidKey is returned when the vault key is not 32 raw bytes or
	// 64 hex characters.
	ErrInvalidKey = errors.New("invalid vault key")
	// errDecrypt is returned when a ciphertext fails authentication,
	// usually meaning the vault key changed.
	errDecrypt = errors.New("decrypting secret failed")
)

const nonceSize = 24

// Vault is the encrypted secret store.
type Vault struct {
	db  *sql.DB
	key [32]byte
}

// Secret is a decrypted secret with metadata.
type Secret struct {
	Name        string
	Value       []byte
	CreatedAt   time.Time
	AccessedAt  time.Time
	AccessCount int
}

const schema = `
CREATE TABLE IF NOT EXISTS secrets (
    name TEXT PRIMARY KEY,
    sealed_value TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    accessed_at TIMESTAMP,
    access_count INTEGER DEFAULT 0
);
`

// NewVault opens the vault. The key must be exactly 32 raw bytes or 64
// hex characters decoding to 32 bytes.
func NewVault(dbPath, key string) (*Vault, error) {
	keyBytes, err := resolveKey(key)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening secrets database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating secrets schema: %w", err)
	}

	v := &Vault{db: db}
	copy(v.key[:], keyBytes)
	return v, nil
}

// resolveKey interprets the key as 32 raw bytes or 64 hex characters.
func resolveKey(key string) ([]byte, error) {
	if len(key) == 64 && isHex(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("vault key hex must decode to 32 bytes: %w", ErrInvalidKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("vault key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidKey)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Set seals and stores a secret, upserting on name.
func (v *Vault) Set(ctx context.Context, name string, value []byte) error {
	ctx, span := tracer.Start(ctx, "secrets.set",
		trace.WithAttributes(attribute.String("secret_name", name)))
	defer span.End()

	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}

	// The nonce is prepended to the box so one column holds both.
	sealed := secretbox.Seal(nonce[:], value, &nonce, &v.key)
	encoded := base64.StdEncoding.EncodeToString(sealed)

	_, err := v.db.ExecContext(ctx,
		`INSERT INTO secrets (name, sealed_value, created_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET sealed_value = excluded.sealed_value`,
		name, encoded, time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}

// Get opens and returns a secret, bumping its access bookkeeping.
func (v *Vault) Get(ctx context.Context, name string) (*Secret, error) {
	ctx, span := tracer.Start(ctx, "secrets.get",
		trace.WithAttributes(attribute.String("secret_name", name)))
	defer span.End()

	var encoded string
	var createdAt, accessedAt sql.NullTime
	var accessCount int
	err := v.db.QueryRowContext(ctx,
		`SELECT sealed_value, created_at, accessed_at, access_count FROM secrets WHERE name = ?`,
		name).Scan(&encoded, &createdAt, &accessedAt, &accessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecretNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying secret: %w", err)
	}

	plaintext, err := v.open(encoded)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	now := time.Now().UTC()
	_, _ = v.db.ExecContext(ctx,
		`UPDATE secrets SET accessed_at = ?, access_count = access_count + 1 WHERE name = ?`,
		now, name)

	return &Secret{
		Name:        name,
		Value:       plaintext,
		CreatedAt:   createdAt.Time,
		AccessedAt:  now,
		AccessCount: accessCount + 1,
	}, nil
}

// List returns the names of stored secrets; never values.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "secrets.list")
	defer span.End()

	rows, err := v.db.QueryContext(ctx, `SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Rotate re-seals an existing secret with a fresh nonce.
func (v *Vault) Rotate(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "secrets.rotate",
		trace.WithAttributes(attribute.String("secret_name", name)))
	defer span.End()

	var encoded string
	err := v.db.QueryRowContext(ctx,
		`SELECT sealed_value FROM secrets WHERE name = ?`, name).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSecretNotFound
	}
	if err != nil {
		return fmt.Errorf("querying secret: %w", err)
	}

	plaintext, err := v.open(encoded)
	if err != nil {
		return err
	}
	return v.Set(ctx, name, plaintext)
}

// Delete removes a secret.
func (v *Vault) Delete(ctx context.Context, name string) error {
	ctx, span := tracer.Start(ctx, "secrets.delete",
		trace.WithAttributes(attribute.String("secret_name", name)))
	defer span.End()

	result, err := v.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return ErrSecretNotFound
	}
	return nil
}

func (v *Vault) open(encoded string) ([]byte, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding sealed value: %w", err)
	}
	if len(sealed) < nonceSize {
		return nil, errDecrypt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plaintext, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &v.key)
	if !ok {
		return nil, errDecrypt
	}
	return plaintext, nil
}
