package serialization

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/emr/internal/domain/base"
	"github.com/ehr/emr/internal/platform/apierr"
	"github.com/ehr/emr/internal/platform/auth"
	"github.com/ehr/emr/internal/platform/validate"
)

// DefaultSerializer is used when serialization.defaultSerializer is unset.
const DefaultSerializer = "json"

type Service struct {
	base.Support
	repo Repository
	gp   base.GlobalProperties

	mu          sync.RWMutex
	serializers map[string]Serializer
}

func NewService(repo Repository, gp base.GlobalProperties) *Service {
	s := &Service{repo: repo, gp: gp, serializers: make(map[string]Serializer)}
	for _, ser := range Builtin() {
		s.Register(ser)
	}
	return s
}

// Register adds or replaces a serializer.
func (s *Service) Register(ser Serializer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serializers[strings.ToLower(ser.Name())] = ser
}

func (s *Service) GetSerializer(name string) (Serializer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ser, ok := s.serializers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, apierr.Invalid("serializer", "serialization.serializer.unknown", "unknown serializer %q", name)
	}
	return ser, nil
}

// GetSerializers lists the registered serializers by name.
func (s *Service) GetSerializers() []Serializer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Serializer, 0, len(s.serializers))
	for _, ser := range s.serializers {
		out = append(out, ser)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

func (s *Service) GetDefaultSerializer(ctx context.Context) Serializer {
	name := DefaultSerializer
	if s.gp != nil {
		name = s.gp.GetGlobalPropertyValue(ctx, base.GPDefaultSerializer, DefaultSerializer)
	}
	ser, err := s.GetSerializer(name)
	if err != nil {
		s.Log().Warn().Str("serializer", name).Msg("unknown default serializer, using json")
		ser, _ = s.GetSerializer(DefaultSerializer)
	}
	return ser
}

// DefaultSerializerName is the name of GetDefaultSerializer.
func (s *Service) DefaultSerializerName(ctx context.Context) string {
	return s.GetDefaultSerializer(ctx).Name()
}

func (s *Service) resolve(ctx context.Context, name string) (Serializer, error) {
	if name == "" {
		return s.GetDefaultSerializer(ctx), nil
	}
	return s.GetSerializer(name)
}

// Serialize encodes v with the named serializer, or the default one when
// name is empty.
func (s *Service) Serialize(ctx context.Context, v interface{}, name string) ([]byte, error) {
	ser, err := s.resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	data, err := ser.Serialize(v)
	if err != nil {
		return nil, fmt.Errorf("serialize with %s: %w", ser.Name(), err)
	}
	return data, nil
}

func (s *Service) Deserialize(ctx context.Context, data []byte, v interface{}, name string) error {
	ser, err := s.resolve(ctx, name)
	if err != nil {
		return err
	}
	if err := ser.Deserialize(data, v); err != nil {
		return apierr.Invalid("serialized_data", "serialization.data.invalid", "cannot read %s data: %v", ser.Name(), err)
	}
	return nil
}

// SaveSerializedObject serializes v and stores it under name. An existing id
// updates the stored object in place.
func (s *Service) SaveSerializedObject(ctx context.Context, o *SerializedObject, v interface{}) error {
	ser, err := s.resolve(ctx, o.Serializer)
	if err != nil {
		return err
	}
	data, err := ser.Serialize(v)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", o.Name, err)
	}
	o.Serializer = ser.Name()
	o.SerializedData = string(data)
	if o.Type == "" {
		o.Type = fmt.Sprintf("%T", v)
	}
	if err := validate.Struct("SerializedObject", o); err != nil {
		return err
	}
	actor := auth.ActorFromContext(ctx)
	if o.ID == uuid.Nil {
		o.Metadata.Stamp(actor, true)
		err = s.repo.Create(ctx, o)
	} else {
		stored, gerr := s.repo.GetByID(ctx, o.ID)
		if gerr != nil {
			return gerr
		}
		o.Metadata.Preserve(stored.Metadata)
		o.Metadata.Stamp(actor, false)
		err = s.repo.Update(ctx, o)
	}
	if err != nil {
		return err
	}
	s.Record("serializedObject", "save")
	return nil
}

// GetSerializedObject loads the object and, when into is non-nil, decodes
// its data into it.
func (s *Service) GetSerializedObject(ctx context.Context, id uuid.UUID, into interface{}) (*SerializedObject, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if into != nil {
		if err := s.Deserialize(ctx, []byte(o.SerializedData), into, o.Serializer); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (s *Service) GetSerializedObjectsByType(ctx context.Context, typ string, includeRetired bool) ([]*SerializedObject, error) {
	return s.repo.ListByType(ctx, typ, includeRetired)
}

func (s *Service) RetireSerializedObject(ctx context.Context, id uuid.UUID, reason string) (*SerializedObject, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := o.Retire(auth.ActorFromContext(ctx), reason); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	s.Record("serializedObject", "retire")
	return o, nil
}

func (s *Service) UnretireSerializedObject(ctx context.Context, id uuid.UUID) (*SerializedObject, error) {
	o, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Unretire()
	o.Metadata.Stamp(auth.ActorFromContext(ctx), false)
	if err := s.repo.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) PurgeSerializedObject(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.Record("serializedObject", "purge")
	return nil
}
