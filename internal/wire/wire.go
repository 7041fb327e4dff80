// Package wire defines the payloads exchanged between the primary and the
// companion.
//
// Two shapes cross the link:
//
//   - Snapshot: every list with its entries, item fields flattened in,
//     pushed primary → companion and replaced wholesale on arrival.
//   - ToggleIntent: a single entry's in-cart request, sent companion → primary.
//
// Decoding never panics and never applies partial garbage: a snapshot without
// a lists array is rejected whole, a list or entry record missing a required
// field is dropped on its own, and any payload that is not a toggle intent is
// rejected with ErrMalformed so the receiver can ignore it.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformed is returned for payloads that must be dropped.
var ErrMalformed = errors.New("malformed payload")

// Snapshot is the full primary state as seen by the companion.
type Snapshot struct {
	Lists []ListRecord `json:"lists"`
}

// ListRecord is one shopping list with its entries in display order.
type ListRecord struct {
	ID        string        `json:"id"`
	StoreName string        `json:"storeName"`
	Date      float64       `json:"date"` // seconds since epoch
	Entries   []EntryRecord `json:"entries"`
}

// CreatedAt returns Date as a time.
func (l *ListRecord) CreatedAt() time.Time {
	sec, frac := math.Modf(l.Date)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Entry returns the entry with the given id, or nil.
func (l *ListRecord) Entry(id string) *EntryRecord {
	for i := range l.Entries {
		if l.Entries[i].ID == id {
			return &l.Entries[i]
		}
	}
	return nil
}

// EntryRecord is one list entry with its item fields resolved. Brand, Notes
// and ImageData are omitted from the encoding when empty.
type EntryRecord struct {
	ID        string `json:"id"`
	ItemID    string `json:"itemID"`
	ItemName  string `json:"itemName"`
	Count     int    `json:"count"`
	InCart    bool   `json:"isInCart"`
	Brand     string `json:"brand,omitempty"`
	Notes     string `json:"notes,omitempty"`
	ImageData []byte `json:"imageData,omitempty"`
}

// UnixSeconds converts t to the payload's date representation.
func UnixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// EncodeSnapshot serializes a snapshot. A nil list set encodes as an empty
// array so the receiver never mistakes it for a malformed payload.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	out := Snapshot{Lists: s.Lists}
	if out.Lists == nil {
		out.Lists = []ListRecord{}
	}
	for i := range out.Lists {
		if out.Lists[i].Entries == nil {
			out.Lists[i].Entries = []EntryRecord{}
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

type rawSnapshot struct {
	Lists *[]json.RawMessage `json:"lists"`
}

type rawList struct {
	ID        *string           `json:"id"`
	StoreName *string           `json:"storeName"`
	Date      *float64          `json:"date"`
	Entries   []json.RawMessage `json:"entries"`
}

type rawEntry struct {
	ID        *string `json:"id"`
	ItemID    *string `json:"itemID"`
	ItemName  *string `json:"itemName"`
	Count     *int    `json:"count"`
	InCart    *bool   `json:"isInCart"`
	Brand     *string `json:"brand"`
	Notes     *string `json:"notes"`
	ImageData []byte  `json:"imageData"`
}

// DecodeSnapshot parses a snapshot payload.
//
// Returns ErrMalformed when the payload is not an object with a lists array.
// Individual records that fail validation are dropped and the rest kept;
// dropped is the number of list and entry records discarded.
func DecodeSnapshot(data []byte) (snap *Snapshot, dropped int, err error) {
	var raw rawSnapshot
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.Lists == nil {
		return nil, 0, fmt.Errorf("%w: missing lists", ErrMalformed)
	}

	snap = &Snapshot{Lists: make([]ListRecord, 0, len(*raw.Lists))}
	for _, rl := range *raw.Lists {
		list, n, ok := decodeList(rl)
		dropped += n
		if !ok {
			dropped++
			continue
		}
		snap.Lists = append(snap.Lists, list)
	}
	return snap, dropped, nil
}

func decodeList(data json.RawMessage) (ListRecord, int, bool) {
	var rl rawList
	if err := json.Unmarshal(data, &rl); err != nil {
		return ListRecord{}, 0, false
	}
	if rl.ID == nil || *rl.ID == "" || rl.StoreName == nil {
		return ListRecord{}, 0, false
	}

	list := ListRecord{
		ID:        *rl.ID,
		StoreName: *rl.StoreName,
		Entries:   make([]EntryRecord, 0, len(rl.Entries)),
	}
	if rl.Date != nil {
		list.Date = *rl.Date
	}

	dropped := 0
	for _, re := range rl.Entries {
		entry, ok := decodeEntry(re)
		if !ok {
			dropped++
			continue
		}
		list.Entries = append(list.Entries, entry)
	}
	return list, dropped, true
}

func decodeEntry(data json.RawMessage) (EntryRecord, bool) {
	var re rawEntry
	if err := json.Unmarshal(data, &re); err != nil {
		return EntryRecord{}, false
	}
	if re.ID == nil || *re.ID == "" || re.ItemName == nil {
		return EntryRecord{}, false
	}

	entry := EntryRecord{
		ID:        *re.ID,
		ItemName:  *re.ItemName,
		Count:     1,
		ImageData: re.ImageData,
	}
	if re.ItemID != nil {
		entry.ItemID = *re.ItemID
	}
	if re.Count != nil && *re.Count >= 1 {
		entry.Count = *re.Count
	}
	if re.InCart != nil {
		entry.InCart = *re.InCart
	}
	if re.Brand != nil {
		entry.Brand = *re.Brand
	}
	if re.Notes != nil {
		entry.Notes = *re.Notes
	}
	return entry, true
}

// ToggleIntent asks the primary to change one entry's in-cart flag.
//
// InCart is the desired state. Intents from older senders carry only the
// entry id; those are applied as a flip.
type ToggleIntent struct {
	EntryID string `json:"toggleEntry"`
	InCart  *bool  `json:"inCart,omitempty"`
}

// EncodeToggle serializes a toggle intent with an explicit target state.
func EncodeToggle(entryID string, inCart bool) ([]byte, error) {
	data, err := json.Marshal(ToggleIntent{EntryID: entryID, InCart: &inCart})
	if err != nil {
		return nil, fmt.Errorf("failed to encode toggle: %w", err)
	}
	return data, nil
}

// DecodeToggle parses a toggle intent. Any other payload shape returns
// ErrMalformed.
func DecodeToggle(data []byte) (*ToggleIntent, error) {
	var raw struct {
		EntryID *string          `json:"toggleEntry"`
		InCart  *json.RawMessage `json:"inCart"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if raw.EntryID == nil || *raw.EntryID == "" {
		return nil, fmt.Errorf("%w: missing toggleEntry", ErrMalformed)
	}

	intent := &ToggleIntent{EntryID: *raw.EntryID}
	if raw.InCart != nil && string(*raw.InCart) != "null" {
		var v bool
		if err := json.Unmarshal(*raw.InCart, &v); err != nil {
			return nil, fmt.Errorf("%w: inCart is not a bool", ErrMalformed)
		}
		intent.InCart = &v
	}
	return intent, nil
}
