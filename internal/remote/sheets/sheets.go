// Package sheets delivers expense mutations to a Google Sheets spreadsheet.
// Each row carries an id marker in its last column so that updates and
// deletes can locate the row written for an earlier create.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"conti/internal/core"
	"conti/internal/remote"
)

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ remote.Deliverer = (*Client)(nil)

// NewFromEnv creates a Sheets client using environment variables.
// Required: GOOGLE_SPREADSHEET_ID.
// Auth: GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or
// GOOGLE_APPLICATION_CREDENTIALS. Optional: GOOGLE_SHEET_NAME (default "Expenses").
func NewFromEnv(ctx context.Context) (*Client, error) {
	spreadsheetID := strings.TrimSpace(os.Getenv("GOOGLE_SPREADSHEET_ID"))
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}

	sheetName := strings.TrimSpace(os.Getenv("GOOGLE_SHEET_NAME"))
	if sheetName == "" {
		sheetName = "Expenses"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheetName: sheetName}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))

	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Deliver applies the mutation to the spreadsheet. Only expenses have a home
// in the sheet; other entity types are acknowledged without a remote write.
func (c *Client) Deliver(ctx context.Context, m remote.Mutation) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	if m.EntityType != core.EntityExpense {
		slog.DebugContext(ctx, "No sheet mapping for entity type, acknowledging",
			"entity_type", m.EntityType, "entity_id", m.EntityID)
		return nil
	}

	switch m.Operation {
	case core.OpCreate:
		return c.appendRow(ctx, m)
	case core.OpUpdate:
		// A row rewrite in place; falls back to append when the original
		// row is gone.
		if err := c.deleteRow(ctx, m.EntityID); err != nil && !errors.Is(err, errRowNotFound) {
			return err
		}
		return c.appendRow(ctx, m)
	case core.OpDelete:
		err := c.deleteRow(ctx, m.EntityID)
		if errors.Is(err, errRowNotFound) {
			// Already gone remotely; delete is idempotent.
			return nil
		}
		return err
	default:
		return fmt.Errorf("unknown operation: %s", m.Operation)
	}
}

func (c *Client) Ping(ctx context.Context) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("probe spreadsheet: %w", err)
	}
	return nil
}

func idMarker(entityID int64) string {
	return fmt.Sprintf("id:%d", entityID)
}

func (c *Client) appendRow(ctx context.Context, m remote.Mutation) error {
	e, err := remote.DecodeExpense(m.Data)
	if err != nil {
		return fmt.Errorf("decode expense payload: %w", err)
	}

	euros := float64(e.Amount.Cents) / 100.0
	vr := &gsheet.ValueRange{Values: [][]any{{
		e.Date.Format("2006-01-02"), e.Description, euros, e.Primary, e.Secondary, idMarker(m.EntityID),
	}}}

	rng := fmt.Sprintf("%s!A:F", c.sheetName)
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row to %s: %w", c.sheetName, err)
	}

	slog.InfoContext(ctx, "Appended expense row",
		"entity_id", m.EntityID,
		"description", e.Description,
		"amount_cents", e.Amount.Cents)

	return nil
}

var errRowNotFound = errors.New("row not found")

func (c *Client) deleteRow(ctx context.Context, entityID int64) error {
	rng := fmt.Sprintf("%s!F:F", c.sheetName)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read id column: %w", err)
	}

	marker := idMarker(entityID)
	rowIndex := -1
	for i, row := range resp.Values {
		if len(row) > 0 && strings.TrimSpace(fmt.Sprint(row[0])) == marker {
			rowIndex = i
			break
		}
	}
	if rowIndex < 0 {
		return errRowNotFound
	}

	sheetID, err := c.sheetID(ctx)
	if err != nil {
		return err
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIndex),
					EndIndex:   int64(rowIndex + 1),
				},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d: %w", rowIndex+1, err)
	}

	slog.InfoContext(ctx, "Deleted expense row", "entity_id", entityID, "row", rowIndex+1)
	return nil
}

func (c *Client) sheetID(ctx context.Context) (int64, error) {
	spreadsheet, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range spreadsheet.Sheets {
		if s.Properties != nil && s.Properties.Title == c.sheetName {
			return s.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", c.sheetName)
}
