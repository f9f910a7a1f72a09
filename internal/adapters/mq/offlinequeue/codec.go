package offlinequeue

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/okian/happenin/internal/domain/model"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("offlinequeue: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("offlinequeue: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeIntent encodes a typed intent as deterministic CBOR.
func EncodeIntent(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode intent: %w", err)
	}
	return b, nil
}

// DecodeIntent decodes a CBOR payload into v.
func DecodeIntent(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode intent: %w", err)
	}
	return nil
}

// DecodeRegistration decodes the payload of a register-event action.
func DecodeRegistration(a model.QueuedAction) (model.RegistrationIntent, error) {
	var intent model.RegistrationIntent
	if a.Kind != model.ActionRegisterEvent {
		return intent, fmt.Errorf("%w: %s is not %s", ErrUnknownKind, a.Kind, model.ActionRegisterEvent)
	}
	err := DecodeIntent(a.Payload, &intent)
	return intent, err
}
