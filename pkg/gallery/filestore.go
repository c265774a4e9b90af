package gallery

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facecheck/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32
)

// ErrEncryption is returned when encryption/decryption fails.
var ErrEncryption = errors.New("encryption error")

// identityRecord is the on-disk form of one identity.
type identityRecord struct {
	Identity  string           `json:"identity"`
	Complete  bool             `json:"complete"`
	Templates []StoredTemplate `json:"templates"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// FileStore keeps one JSON document per identity under
// <dataDir>/identities, optionally sealed with NaCl secretbox.
type FileStore struct {
	dataDir           string
	encryptionEnabled bool
	encryptionKey     [KeySize]byte
	byteLen           int

	mu  sync.RWMutex
	log *logrus.Entry
}

// NewFileStore creates the identities directory if needed. byteLen is
// the expected embedding size; 0 disables the length check.
func NewFileStore(dataDir string, encryptionEnabled bool, byteLen int) (*FileStore, error) {
	fs := &FileStore{
		dataDir:           dataDir,
		encryptionEnabled: encryptionEnabled,
		byteLen:           byteLen,
		log:               logging.Component("gallery"),
	}

	// Derive encryption key from machine-specific information
	if encryptionEnabled {
		fs.encryptionKey = deriveKey()
	}

	if err := os.MkdirAll(fs.identitiesDir(), 0700); err != nil {
		return nil, fmt.Errorf("failed to create identities directory: %w", err)
	}

	return fs, nil
}

// deriveKey derives an encryption key from machine-specific information.
// This ties the encrypted data to this specific machine.
func deriveKey() [KeySize]byte {
	var identity strings.Builder

	if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
		identity.Write(machineID)
	}
	if hostname, err := os.Hostname(); err == nil {
		identity.WriteString(hostname)
	}
	identity.WriteString(fmt.Sprintf("%d", os.Getuid()))
	identity.WriteString("facecheck-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}

func (fs *FileStore) identitiesDir() string {
	return filepath.Join(fs.dataDir, "identities")
}

func (fs *FileStore) identityPath(identity string) string {
	ext := ".json"
	if fs.encryptionEnabled {
		ext = ".enc"
	}
	return filepath.Join(fs.identitiesDir(), identity+ext)
}

func (fs *FileStore) load(identity string) (*identityRecord, error) {
	data, err := os.ReadFile(fs.identityPath(identity))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrIdentityNotFound
		}
		return nil, fmt.Errorf("failed to read identity %s: %w", identity, err)
	}

	if fs.encryptionEnabled {
		data, err = fs.decrypt(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt identity %s: %w", identity, err)
		}
	}

	var rec identityRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity %s: %w", identity, err)
	}
	return &rec, nil
}

// save writes through a temp file and rename so readers never observe
// a half-written record.
func (fs *FileStore) save(rec *identityRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal identity: %w", err)
	}

	if fs.encryptionEnabled {
		data, err = fs.encrypt(data)
		if err != nil {
			return fmt.Errorf("failed to encrypt identity: %w", err)
		}
	}

	path := fs.identityPath(rec.Identity)
	tmp, err := os.CreateTemp(fs.identitiesDir(), "."+rec.Identity+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write identity: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReplaceTemplate implements Writer.
func (fs *FileStore) ReplaceTemplate(ctx context.Context, identity, pose string, embedding []byte, quality float64) (StoredTemplate, error) {
	if err := ctx.Err(); err != nil {
		return StoredTemplate{}, err
	}
	if err := ValidateTemplate(identity, pose, embedding, quality, fs.byteLen); err != nil {
		return StoredTemplate{}, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(identity)
	if errors.Is(err, ErrIdentityNotFound) {
		rec = &identityRecord{Identity: identity}
	} else if err != nil {
		return StoredTemplate{}, err
	}

	now := time.Now().UTC()
	tmpl := StoredTemplate{
		ID:        uuid.NewString(),
		Identity:  identity,
		Pose:      pose,
		Embedding: append([]byte(nil), embedding...),
		Quality:   quality,
		CreatedAt: now,
	}

	kept := rec.Templates[:0]
	for _, t := range rec.Templates {
		if t.Pose != pose {
			kept = append(kept, t)
		}
	}
	rec.Templates = append(kept, tmpl)
	rec.UpdatedAt = now

	if err := fs.save(rec); err != nil {
		return StoredTemplate{}, err
	}

	fs.log.WithFields(logging.Fields{
		"identity": identity,
		"pose":     pose,
		"quality":  quality,
	}).Debug("Replaced template")
	return tmpl, nil
}

// MarkComplete implements Writer.
func (fs *FileStore) MarkComplete(ctx context.Context, identity string, complete bool) error {
	return fs.update(ctx, identity, func(rec *identityRecord) {
		rec.Complete = complete
	})
}

// ClearIdentity implements Writer.
func (fs *FileStore) ClearIdentity(ctx context.Context, identity string) error {
	return fs.update(ctx, identity, func(rec *identityRecord) {
		rec.Templates = nil
		rec.Complete = false
	})
}

func (fs *FileStore) update(ctx context.Context, identity string, fn func(*identityRecord)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateIdentity(identity); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(identity)
	if err != nil {
		return err
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return fs.save(rec)
}

// GetTemplates implements Provider. Templates come back best quality first.
func (fs *FileStore) GetTemplates(ctx context.Context, identity string) ([]StoredTemplate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateIdentity(identity); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	rec, err := fs.load(identity)
	fs.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	SortByQuality(rec.Templates)
	return rec.Templates, nil
}

// ListEnrollableIdentities implements Provider: identities holding at
// least one template, sorted by key.
func (fs *FileStore) ListEnrollableIdentities(ctx context.Context) ([]string, error) {
	infos, err := fs.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range infos {
		if len(info.Poses) > 0 {
			out = append(out, info.Key)
		}
	}
	return out, nil
}

// ListIdentities returns every stored identity sorted by key.
func (fs *FileStore) ListIdentities(ctx context.Context) ([]IdentityInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.identitiesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []IdentityInfo{}, nil
		}
		return nil, fmt.Errorf("failed to list identities: %w", err)
	}

	ext := filepath.Ext(fs.identityPath("x"))
	var infos []IdentityInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}

		key := strings.TrimSuffix(name, ext)
		rec, err := fs.load(key)
		if err != nil {
			fs.log.WithError(err).WithField("identity", key).Warn("Skipping unreadable identity")
			continue
		}
		infos = append(infos, IdentityInfo{
			Key:       rec.Identity,
			Poses:     TrainedPoses(rec.Templates),
			Complete:  rec.Complete,
			UpdatedAt: rec.UpdatedAt,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

// DeleteIdentity removes the identity and all its templates.
func (fs *FileStore) DeleteIdentity(ctx context.Context, identity string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := ValidateIdentity(identity); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.identityPath(identity)); err != nil {
		if os.IsNotExist(err) {
			return ErrIdentityNotFound
		}
		return fmt.Errorf("failed to delete identity: %w", err)
	}

	fs.log.Infof("Deleted identity: %s", identity)
	return nil
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error {
	return nil
}

// encrypt encrypts data using NaCl secretbox.
func (fs *FileStore) encrypt(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &fs.encryptionKey), nil
}

// decrypt decrypts data using NaCl secretbox.
func (fs *FileStore) decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize {
		return nil, ErrEncryption
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &fs.encryptionKey)
	if !ok {
		return nil, ErrEncryption
	}
	return plaintext, nil
}
