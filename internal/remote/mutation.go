package remote

import (
	"encoding/json"
	"time"

	"conti/internal/core"
)

// Mutation is a single pending change to be delivered to the remote side.
// Data carries the entity payload for create/update; it is nil for deletes
// and for entities whose local record has since been removed.
type Mutation struct {
	Operation  core.Operation  `json:"operation"`
	EntityType core.EntityType `json:"entityType"`
	EntityID   int64           `json:"entityId"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// ExpensePayload is the wire shape of an expense inside Mutation.Data.
type ExpensePayload struct {
	Date        string `json:"date"` // YYYY-MM-DD
	Description string `json:"description"`
	AmountCents int64  `json:"amountCents"`
	Primary     string `json:"primary"`
	Secondary   string `json:"secondary"`
}

// CategoryPayload is the wire shape of a category inside Mutation.Data.
type CategoryPayload struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`
}

// MediaPayload is the wire shape of media metadata inside Mutation.Data.
type MediaPayload struct {
	ExpenseID int64  `json:"expenseId"`
	Name      string `json:"name"`
	MimeType  string `json:"mimeType,omitempty"`
	SizeBytes int64  `json:"sizeBytes"`
}

const dateLayout = "2006-01-02"

func EncodeExpense(e core.Expense) (json.RawMessage, error) {
	return json.Marshal(ExpensePayload{
		Date:        e.Date.Format(dateLayout),
		Description: e.Description,
		AmountCents: e.Amount.Cents,
		Primary:     e.Primary,
		Secondary:   e.Secondary,
	})
}

func DecodeExpense(data json.RawMessage) (core.Expense, error) {
	var p ExpensePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return core.Expense{}, err
	}
	d, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		Date:        core.Date{Time: d},
		Description: p.Description,
		Amount:      core.Money{Cents: p.AmountCents},
		Primary:     p.Primary,
		Secondary:   p.Secondary,
	}, nil
}

func EncodeCategory(c core.Category) (json.RawMessage, error) {
	return json.Marshal(CategoryPayload{Name: c.Name, Parent: c.Parent})
}

func EncodeMedia(f core.MediaFile) (json.RawMessage, error) {
	return json.Marshal(MediaPayload{
		ExpenseID: f.ExpenseID,
		Name:      f.Name,
		MimeType:  f.MimeType,
		SizeBytes: f.SizeBytes,
	})
}
