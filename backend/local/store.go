package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/waselportal/recoveryflow/urltoken"
)

const codeRecordVersionV1 = 1

// Error strings intentionally follow the hosted provider's message
// conventions so recoveryflow.Classify buckets them the same way.
var (
	errCodeInvalid          = errors.New("Token has expired or is invalid")
	errCodeAttemptsExceeded = errors.New("Too many requests")
	errStoreUnavailable     = errors.New("connection to local identity store failed")
)

type codeRecord struct {
	UserID    string
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Kind      urltoken.Kind
}

// codeStore keeps one pending one-time code per address. Consume is
// WATCH-guarded so a raced double submit burns the code exactly once.
type codeStore struct {
	redis  *redis.Client
	prefix string
}

func newCodeStore(rdb *redis.Client, prefix string) *codeStore {
	return &codeStore{redis: rdb, prefix: prefix}
}

func (s *codeStore) key(email string) string {
	return s.prefix + ":code:" + email
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

func (s *codeStore) Save(ctx context.Context, email string, record *codeRecord, ttl time.Duration) error {
	encoded, err := encodeCodeRecord(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(email), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errStoreUnavailable, err)
	}
	return nil
}

// Consume validates and burns the pending code for email. A wrong code
// increments the attempt counter in place; hitting the cap or expiry deletes
// the record.
func (s *codeStore) Consume(
	ctx context.Context,
	email, code string,
	kind urltoken.Kind,
	maxAttempts int,
) (*codeRecord, error) {
	const maxRetries = 4
	key := s.key(email)
	provided := hashCode(code)

	for i := 0; i < maxRetries; i++ {
		var matched *codeRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			record, err := decodeCodeRecord(data)
			if err != nil {
				return err
			}

			if time.Now().Unix() > record.ExpiresAt || record.Kind != kind {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return errCodeInvalid
			}

			if int(record.Attempts) >= maxAttempts {
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				}); err != nil {
					return err
				}
				return errCodeAttemptsExceeded
			}

			if subtle.ConstantTimeCompare(provided[:], record.CodeHash[:]) != 1 {
				record.Attempts++
				encoded, err := encodeCodeRecord(record)
				if err != nil {
					return err
				}
				remaining := time.Until(time.Unix(record.ExpiresAt, 0))
				if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, encoded, remaining)
					return nil
				}); err != nil {
					return err
				}
				return errCodeInvalid
			}

			if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			}); err != nil {
				return err
			}

			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, errCodeInvalid
			case errors.Is(err, errCodeInvalid), errors.Is(err, errCodeAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", errStoreUnavailable, err)
			}
		}

		return matched, nil
	}

	return nil, errCodeInvalid
}

func encodeCodeRecord(record *codeRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(codeRecordVersionV1)
	buf.WriteByte(byte(record.Kind))

	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}

	if len(record.UserID) > 65535 {
		return nil, errors.New("code record user id too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(record.UserID)
	buf.Write(record.CodeHash[:])

	return buf.Bytes(), nil
}

func decodeCodeRecord(data []byte) (*codeRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != codeRecordVersionV1 {
		return nil, errors.New("invalid code record version")
	}

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &codeRecord{Kind: urltoken.Kind(kind)}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	record.UserID = string(userID)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	return record, nil
}
