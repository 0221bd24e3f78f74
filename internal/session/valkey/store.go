package sessionvalkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/auth-lifecycle/internal/serviceerr"
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	prefix = strings.TrimSuffix(prefix, ":")
	return &store{
		valkey: valkeyClient,
		prefix: prefix,
	}
}

func (s *store) Get(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	key := s.key(objectType, objectID)
	bytes, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		return s.mapErr(err, "executing get command")
	}

	return s.decode(bytes, decodeInto)
}

// Take reads and deletes the value in one server side step.
func (s *store) Take(ctx context.Context, objectType ObjectType, objectID string, decodeInto any) error {
	key := s.key(objectType, objectID)
	bytes, err := s.valkey.Do(ctx, s.valkey.B().Getdel().Key(key).Build()).AsBytes()
	if err != nil {
		return s.mapErr(err, "executing getdel command")
	}

	return s.decode(bytes, decodeInto)
}

func (s *store) Set(ctx context.Context, objectType ObjectType, id string, val any) error {
	key := s.key(objectType, id)
	bytes, err := s.encode(val)
	if err != nil {
		return fmt.Errorf("encoding data: %w", err)
	}

	if err := s.valkey.Do(ctx, s.valkey.B().Set().Key(key).Value(valkey.BinaryString(bytes)).Build()).Error(); err != nil {
		return fmt.Errorf("executing set command: %w", err)
	}

	return nil
}

func (s *store) Destroy(ctx context.Context, objectType ObjectType, id string) error {
	key := s.key(objectType, id)
	if err := s.valkey.Do(ctx, s.valkey.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("executing del command: %w", err)
	}

	return nil
}

func (s *store) mapErr(err error, op string) error {
	valkeyErr, ok := valkey.IsValkeyErr(err)
	if ok && valkeyErr.IsNil() {
		return errors.Join(valkeyErr, serviceerr.ErrNotFound)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func (s *store) key(objectType ObjectType, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}

func (s *store) encode(v any) ([]byte, error) {
	bytes, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling json: %w", err)
	}

	return bytes, nil
}

func (s *store) decode(data []byte, into any) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}
