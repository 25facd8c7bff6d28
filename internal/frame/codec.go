package frame

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// Tier selects the addressing rules of a link.
type Tier int

const (
	// TierAccessory is the Hub↔Accessory link: one accessory per session.
	TierAccessory Tier = iota + 1

	// TierHub is the Server↔Hub link: many accessories per session.
	TierHub
)

func (t Tier) String() string {
	switch t {
	case TierAccessory:
		return "accessory"
	case TierHub:
		return "hub"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// Codec encodes and decodes frames for one tier.
type Codec struct {
	Tier Tier

	// RequireAccessoryID makes accessory-id mandatory at TierAccessory too.
	// It is always mandatory at TierHub.
	RequireAccessoryID bool
}

// addressed reports whether accessory-addressed frames carry accessory-id.
func (c Codec) addressed() bool {
	return c.Tier == TierHub || c.RequireAccessoryID
}

// wireFrame is the union of every field any frame type uses.
type wireFrame struct {
	Type               Type                 `json:"type"`
	ID                 *ID                  `json:"id,omitempty"`
	AccessoryID        *uuid.UUID           `json:"accessory-id,omitempty"`
	ServiceName        string               `json:"service-name,omitempty"`
	CharacteristicName string               `json:"characteristic-name,omitempty"`
	Characteristic     json.RawMessage      `json:"characteristic,omitempty"`
	Accessory          *accessory.Accessory `json:"accessory,omitempty"`
	Result             json.RawMessage      `json:"result,omitempty"`
}

// Encode serialises a frame for this codec's tier.
func (c Codec) Encode(f Frame) ([]byte, error) {
	w := wireFrame{Type: f.Type()}

	switch v := f.(type) {
	case ReadCharacteristic:
		w.ID = &v.ID
		w.ServiceName = string(v.ServiceName)
		w.CharacteristicName = string(v.CharacteristicName)
		if err := c.setAccessoryID(&w, v.AccessoryID); err != nil {
			return nil, err
		}
	case WriteCharacteristic:
		w.ID = &v.ID
		w.ServiceName = string(v.ServiceName)
		if err := c.setAccessoryID(&w, v.AccessoryID); err != nil {
			return nil, err
		}
		if err := setCharacteristic(&w, v.Characteristic); err != nil {
			return nil, err
		}
	case AccessoryConnected:
		if c.Tier != TierHub {
			return nil, fmt.Errorf("%w: %s on %s tier", ErrUnexpectedFrame, w.Type, c.Tier)
		}
		acc := v.Accessory
		w.Accessory = &acc
	case AccessoryDisconnected:
		if c.Tier != TierHub {
			return nil, fmt.Errorf("%w: %s on %s tier", ErrUnexpectedFrame, w.Type, c.Tier)
		}
		id := v.AccessoryID
		w.AccessoryID = &id
	case UpdateCharacteristic:
		w.ServiceName = string(v.ServiceName)
		if err := c.setAccessoryID(&w, v.AccessoryID); err != nil {
			return nil, err
		}
		if err := setCharacteristic(&w, v.Characteristic); err != nil {
			return nil, err
		}
	case ReadCharacteristicResult:
		w.ID = &v.ID
		var body any
		if v.Err == "" {
			if v.Characteristic == nil {
				return nil, fmt.Errorf("%w: successful read result without characteristic", ErrEncode)
			}
			body = v.Characteristic
		}
		result, err := accessory.MarshalResult(body, v.Err)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		w.Result = result
	case WriteCharacteristicResult:
		w.ID = &v.ID
		result, err := accessory.MarshalResult(nil, v.Err)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncode, err)
		}
		w.Result = result
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedFrame, f)
	}

	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

func (c Codec) setAccessoryID(w *wireFrame, id uuid.UUID) error {
	if !c.addressed() {
		return nil
	}
	if id == uuid.Nil {
		return fmt.Errorf("%w: %s requires accessory-id on %s tier", ErrEncode, w.Type, c.Tier)
	}
	w.AccessoryID = &id
	return nil
}

func setCharacteristic(w *wireFrame, ch accessory.Characteristic) error {
	if ch == nil {
		return fmt.Errorf("%w: %s requires characteristic", ErrEncode, w.Type)
	}
	data, err := accessory.MarshalCharacteristic(ch)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	w.Characteristic = data
	return nil
}

// DecodeDownstream parses a request frame.
func (c Codec) DecodeDownstream(data []byte) (Downstream, error) {
	w, err := unmarshalWire(data)
	if err != nil {
		return nil, err
	}

	switch w.Type {
	case TypeReadCharacteristic:
		id, err := w.requireID()
		if err != nil {
			return nil, err
		}
		accessoryID, err := c.accessoryID(w)
		if err != nil {
			return nil, err
		}
		if w.ServiceName == "" || w.CharacteristicName == "" {
			return nil, missingField(w.Type, "service-name and characteristic-name")
		}
		return ReadCharacteristic{
			ID:                 id,
			AccessoryID:        accessoryID,
			ServiceName:        accessory.ServiceName(w.ServiceName),
			CharacteristicName: accessory.CharacteristicName(w.CharacteristicName),
		}, nil
	case TypeWriteCharacteristic:
		id, err := w.requireID()
		if err != nil {
			return nil, err
		}
		accessoryID, err := c.accessoryID(w)
		if err != nil {
			return nil, err
		}
		if w.ServiceName == "" {
			return nil, missingField(w.Type, "service-name")
		}
		ch, err := w.characteristic()
		if err != nil {
			return nil, err
		}
		return WriteCharacteristic{
			ID:             id,
			AccessoryID:    accessoryID,
			ServiceName:    accessory.ServiceName(w.ServiceName),
			Characteristic: ch,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a request", ErrUnexpectedFrame, w.Type)
	}
}

// DecodeUpstream parses an event or result frame.
func (c Codec) DecodeUpstream(data []byte) (Upstream, error) {
	w, err := unmarshalWire(data)
	if err != nil {
		return nil, err
	}

	switch w.Type {
	case TypeAccessoryConnected:
		if c.Tier != TierHub {
			return nil, fmt.Errorf("%w: %s on %s tier", ErrUnexpectedFrame, w.Type, c.Tier)
		}
		if w.Accessory == nil {
			return nil, missingField(w.Type, "accessory")
		}
		if err := w.Accessory.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return AccessoryConnected{Accessory: *w.Accessory}, nil
	case TypeAccessoryDisconnected:
		if c.Tier != TierHub {
			return nil, fmt.Errorf("%w: %s on %s tier", ErrUnexpectedFrame, w.Type, c.Tier)
		}
		if w.AccessoryID == nil || *w.AccessoryID == uuid.Nil {
			return nil, missingField(w.Type, "accessory-id")
		}
		return AccessoryDisconnected{AccessoryID: *w.AccessoryID}, nil
	case TypeUpdateCharacteristic:
		accessoryID, err := c.accessoryID(w)
		if err != nil {
			return nil, err
		}
		if w.ServiceName == "" {
			return nil, missingField(w.Type, "service-name")
		}
		ch, err := w.characteristic()
		if err != nil {
			return nil, err
		}
		return UpdateCharacteristic{
			AccessoryID:    accessoryID,
			ServiceName:    accessory.ServiceName(w.ServiceName),
			Characteristic: ch,
		}, nil
	case TypeReadCharacteristicResult:
		id, err := w.requireID()
		if err != nil {
			return nil, err
		}
		body, failure, err := w.result()
		if err != nil {
			return nil, err
		}
		if failure != "" {
			return ReadCharacteristicResult{ID: id, Err: failure}, nil
		}
		ch, err := accessory.UnmarshalCharacteristic(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		return ReadCharacteristicResult{ID: id, Characteristic: ch}, nil
	case TypeWriteCharacteristicResult:
		id, err := w.requireID()
		if err != nil {
			return nil, err
		}
		_, failure, err := w.result()
		if err != nil {
			return nil, err
		}
		return WriteCharacteristicResult{ID: id, Err: failure}, nil
	default:
		return nil, fmt.Errorf("%w: %q is not an event or result", ErrUnexpectedFrame, w.Type)
	}
}

func unmarshalWire(data []byte) (wireFrame, error) {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return w, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if w.Type == "" {
		return w, fmt.Errorf("%w: missing type", ErrDecode)
	}
	return w, nil
}

// accessoryID returns the frame's accessory-id, enforcing the tier rule.
// On an unaddressed link any id sent by the peer is ignored.
func (c Codec) accessoryID(w wireFrame) (uuid.UUID, error) {
	if !c.addressed() {
		return uuid.Nil, nil
	}
	if w.AccessoryID == nil || *w.AccessoryID == uuid.Nil {
		return uuid.Nil, missingField(w.Type, "accessory-id")
	}
	return *w.AccessoryID, nil
}

func (w wireFrame) requireID() (ID, error) {
	if w.ID == nil {
		return 0, missingField(w.Type, "id")
	}
	return *w.ID, nil
}

func (w wireFrame) characteristic() (accessory.Characteristic, error) {
	if len(w.Characteristic) == 0 {
		return nil, missingField(w.Type, "characteristic")
	}
	ch, err := accessory.UnmarshalCharacteristic(w.Characteristic)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return ch, nil
}

func (w wireFrame) result() (json.RawMessage, accessory.Error, error) {
	if len(w.Result) == 0 {
		return nil, "", missingField(w.Type, "result")
	}
	body, failure, err := accessory.UnmarshalResult(w.Result)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return body, failure, nil
}

func missingField(t Type, field string) error {
	return fmt.Errorf("%w: %s requires %s", ErrDecode, t, field)
}
