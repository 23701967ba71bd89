// Package localstore implements a small S3-compatible object store
// backed by the local filesystem and SQLite. It exists so the sync
// pipeline can run and be integration-tested against a real S3 client
// without any remote bucket.
package localstore

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds configuration for the local object store.
type Config struct {
	// DataDir is the root directory for payloads and the metadata
	// database.
	DataDir string
	// Region is reported to clients that ask for the bucket location.
	Region string
}

// Server provides the subset of the S3 HTTP API that the sync pipeline
// exercises: bucket create/head, object put/get/head/delete, and
// object listing. User metadata (x-amz-meta-*) round-trips, which the
// pipeline relies on for digest change detection.
type Server struct {
	cfg      Config
	db       *sql.DB
	payloads *payloadStore
}

// NewServer initializes the metadata database and returns a new Server.
func NewServer(ctx context.Context, cfg Config) (*Server, error) {
	if cfg.DataDir == "" {
		return nil, errors.New("DataDir must not be empty")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path.Join(cfg.DataDir, "metadata.sqlite"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Server{cfg: cfg, db: db, payloads: newPayloadStore(cfg.DataDir)}, nil
}

// Close closes any resources held by the Server.
func (s *Server) Close() error {
	return s.db.Close()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`PRAGMA foreign_keys = ON;`,
		`CREATE TABLE IF NOT EXISTS buckets (
			name TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS objects (
			bucket TEXT NOT NULL,
			key TEXT NOT NULL,
			hash TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT,
			user_metadata TEXT NOT NULL DEFAULT '{}',
			modified_at TIMESTAMP NOT NULL,
			PRIMARY KEY (bucket, key),
			FOREIGN KEY(bucket) REFERENCES buckets(name) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_objects_hash ON objects(hash);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// objectRow is the metadata record for one stored object.
type objectRow struct {
	Hash         string
	Size         int64
	ContentType  sql.NullString
	UserMetadata string
	ModifiedAt   string
}

func (s *Server) lookupObject(ctx context.Context, bucket, key string) (objectRow, error) {
	var row objectRow
	err := s.db.QueryRowContext(ctx,
		`SELECT hash, size, content_type, user_metadata, modified_at FROM objects WHERE bucket = ? AND key = ?`,
		bucket, key,
	).Scan(&row.Hash, &row.Size, &row.ContentType, &row.UserMetadata, &row.ModifiedAt)
	return row, err
}

func (s *Server) bucketExists(ctx context.Context, bucket string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM buckets WHERE name = ?`, bucket).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ensureBucket makes sure the given bucket exists, creating it if
// necessary. It returns true if the bucket was created.
func (s *Server) ensureBucket(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO buckets(name, created_at) VALUES(?, CURRENT_TIMESTAMP)`,
		name,
	)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	return rows > 0, err
}

// writeS3Error writes a minimal S3-style XML error response.
func writeS3Error(w http.ResponseWriter, code string, message string, resource string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(S3Error{
		Code:     code,
		Message:  message,
		Resource: resource,
	})
}

func writeInternalError(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "InternalError", "We encountered an internal error. Please try again.", r.URL.Path, http.StatusInternalServerError)
}

func writeNoSuchKey(w http.ResponseWriter, r *http.Request) {
	writeS3Error(w, "NoSuchKey", "The specified key does not exist.", r.URL.Path, http.StatusNotFound)
}

// writeXMLResponse encodes v as XML and writes it with a 200 OK status.
func writeXMLResponse(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	return xml.NewEncoder(w).Encode(v)
}

func createETag(hashHex string) string {
	return fmt.Sprintf("\"%s\"", hashHex)
}

// userMetadataFromHeaders collects x-amz-meta-* request headers into a
// map keyed by the metadata name without the prefix, lowercased.
func userMetadataFromHeaders(h http.Header) map[string]string {
	meta := map[string]string{}
	for name, values := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-amz-meta-") || len(values) == 0 {
			continue
		}
		meta[strings.TrimPrefix(lower, "x-amz-meta-")] = values[0]
	}
	return meta
}

func setObjectHeaders(w http.ResponseWriter, row objectRow) {
	if row.ContentType.Valid {
		w.Header().Set("Content-Type", row.ContentType.String)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Length", strconv.FormatInt(row.Size, 10))
	w.Header().Set("ETag", createETag(row.Hash))
	w.Header().Set("Accept-Ranges", "bytes")

	meta := map[string]string{}
	if err := json.Unmarshal([]byte(row.UserMetadata), &meta); err != nil {
		slog.Error("Decode stored user metadata", "err", err)
		return
	}
	for name, value := range meta {
		w.Header().Set("X-Amz-Meta-"+name, value)
	}
}

// decodeStreamingPayload decodes an AWS Signature Version 4 streaming
// (chunked) request body, returning the raw payload and its SHA-256
// hex hash. S3 clients use this framing for unencrypted PUTs.
func decodeStreamingPayload(body io.Reader) ([]byte, string, error) {
	br := bufio.NewReader(body)
	h := sha256.New()
	var payload []byte

	for {
		// Each chunk begins with: <size-hex>[;extensions]\r\n
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, "", errors.New("unexpected EOF while reading chunk header")
			}
			return nil, "", fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip chunk extensions (e.g. ";chunk-signature=...").
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return nil, "", fmt.Errorf("parse chunk size %q: %w", line, err)
		}

		if size == 0 {
			// Final chunk; consume the trailer terminator and stop.
			_, _ = br.ReadString('\n')
			break
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, "", fmt.Errorf("read chunk body: %w", err)
		}
		payload = append(payload, chunk...)
		h.Write(chunk)

		// Consume the trailing CRLF after the chunk body.
		if b, err := br.ReadByte(); err != nil || b != '\r' {
			return nil, "", fmt.Errorf("expected CR after chunk (err: %v)", err)
		}
		if b, err := br.ReadByte(); err != nil || b != '\n' {
			return nil, "", fmt.Errorf("expected LF after chunk (err: %v)", err)
		}
	}

	return payload, hex.EncodeToString(h.Sum(nil)), nil
}

// ------ HTTP handlers ------

func (s *Server) handleListBuckets(w http.ResponseWriter, r *http.Request) {
	rows, err := s.db.QueryContext(r.Context(), `SELECT name, created_at FROM buckets ORDER BY name`)
	if err != nil {
		slog.Error("List buckets", "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	buckets := make([]ListAllMyBucketsEntry, 0)
	for rows.Next() {
		var b ListAllMyBucketsEntry
		if err := rows.Scan(&b.Name, &b.CreationDate); err != nil {
			slog.Error("Scan bucket", "err", err)
			continue
		}
		buckets = append(buckets, b)
	}

	resp := ListAllMyBucketsResult{
		XMLNS: s3XMLNamespace,
		Owner: ListAllMyBucketsOwner{
			ID:          "localstore",
			DisplayName: "localstore",
		},
		Buckets: buckets,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list buckets XML", "err", err)
	}
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	created, err := s.ensureBucket(r.Context(), bucket)
	if err != nil {
		slog.Error("Create bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if !created {
		writeS3Error(w, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", r.URL.Path, http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleHeadBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Head bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM buckets WHERE name = ?`, bucket); err != nil {
		slog.Error("Delete bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if err := s.payloads.deleteBucket(bucket); err != nil {
		slog.Error("Delete bucket payloads", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	exists, err := s.bucketExists(r.Context(), bucket)
	if err != nil {
		slog.Error("Check bucket exists", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	if !exists {
		writeS3Error(w, "NoSuchBucket", "The specified bucket does not exist.", r.URL.Path, http.StatusNotFound)
		return
	}

	q := r.URL.Query()
	prefix := q.Get("prefix")
	maxKeys := 1000
	if raw := q.Get("max-keys"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			maxKeys = v
		}
	}

	// Fetch up to maxKeys+1 to determine truncation.
	args := []any{bucket}
	query := `SELECT key, hash, size, modified_at FROM objects WHERE bucket = ?`
	if prefix != "" {
		query += " AND key LIKE ?"
		args = append(args, prefix+"%")
	}
	query += " ORDER BY key LIMIT ?"
	args = append(args, maxKeys+1)

	rows, err := s.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		slog.Error("List objects", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}
	defer rows.Close()

	var summaries []ObjectSummary
	for rows.Next() {
		var (
			key        string
			hashHex    string
			size       int64
			modifiedAt string
		)
		if err := rows.Scan(&key, &hashHex, &size, &modifiedAt); err != nil {
			slog.Error("Scan object", "bucket", bucket, "err", err)
			continue
		}
		summaries = append(summaries, ObjectSummary{
			Key:          key,
			LastModified: modifiedAt,
			ETag:         createETag(hashHex),
			Size:         size,
			StorageClass: "STANDARD",
		})
	}

	isTruncated := false
	if len(summaries) > maxKeys {
		isTruncated = true
		summaries = summaries[:maxKeys]
	}

	resp := ListBucketResult{
		XMLNS:       s3XMLNamespace,
		Name:        bucket,
		Prefix:      prefix,
		MaxKeys:     maxKeys,
		IsTruncated: isTruncated,
		Contents:    summaries,
	}

	if err := writeXMLResponse(w, resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	defer r.Body.Close()

	// Auto-create the bucket for convenience.
	if _, err := s.ensureBucket(r.Context(), bucket); err != nil {
		slog.Error("Ensure bucket", "bucket", bucket, "err", err)
		writeInternalError(w, r)
		return
	}

	var (
		data    []byte
		hashHex string
		err     error
	)

	contentSHA := r.Header.Get("X-Amz-Content-Sha256")
	if strings.EqualFold(contentSHA, "STREAMING-AWS4-HMAC-SHA256-PAYLOAD") {
		data, hashHex, err = decodeStreamingPayload(r.Body)
		if err != nil {
			slog.Error("Decode streaming payload", "err", err)
			writeS3Error(w, "InvalidRequest", "Failed to decode streaming payload", r.URL.Path, http.StatusBadRequest)
			return
		}
	} else {
		data, err = io.ReadAll(r.Body)
		if err != nil {
			slog.Error("Read request body", "err", err)
			writeS3Error(w, "InvalidRequest", "Failed to read request body", r.URL.Path, http.StatusBadRequest)
			return
		}
		sum := sha256.Sum256(data)
		hashHex = hex.EncodeToString(sum[:])
	}

	if err := s.payloads.put(bucket, hashHex, data); err != nil {
		slog.Error("Store object payload", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	metaJSON, err := json.Marshal(userMetadataFromHeaders(r.Header))
	if err != nil {
		slog.Error("Encode user metadata", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	_, err = s.db.ExecContext(r.Context(),
		`INSERT INTO objects(bucket, key, hash, size, content_type, user_metadata, modified_at)
		 VALUES(?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(bucket, key) DO UPDATE SET
		 	hash=excluded.hash,
		 	size=excluded.size,
		 	content_type=excluded.content_type,
		 	user_metadata=excluded.user_metadata,
		 	modified_at=excluded.modified_at`,
		bucket, key, hashHex, len(data), contentType, string(metaJSON),
	)
	if err != nil {
		slog.Error("Upsert object metadata", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	w.Header().Set("ETag", createETag(hashHex))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	row, err := s.lookupObject(r.Context(), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeNoSuchKey(w, r)
		return
	}
	if err != nil {
		slog.Error("Lookup object metadata", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	data, err := s.payloads.get(bucket, row.Hash)
	if err != nil {
		slog.Error("Read object payload", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	setObjectHeaders(w, row)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		slog.Error("Stream object", "bucket", bucket, "key", key, "err", err)
	}
}

func (s *Server) handleHeadObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	row, err := s.lookupObject(r.Context(), bucket, key)
	if errors.Is(err, sql.ErrNoRows) {
		writeNoSuchKey(w, r)
		return
	}
	if err != nil {
		slog.Error("Lookup object metadata (HEAD)", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	setObjectHeaders(w, row)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	if _, err := s.db.ExecContext(r.Context(), `DELETE FROM objects WHERE bucket = ? AND key = ?`, bucket, key); err != nil {
		slog.Error("Delete object metadata", "bucket", bucket, "key", key, "err", err)
		writeInternalError(w, r)
		return
	}

	// Unreferenced payload files are not garbage-collected; the store
	// is a dev/test double and payloads are content-addressed anyway.
	w.WriteHeader(http.StatusNoContent)
}
