package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"cadence/internal/cache"
	"cadence/internal/core"
	ports "cadence/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// DefaultSheetName is used when Options leaves SheetName empty.
const DefaultSheetName = "Transactions"

// Row layout of the ledger sheet. Row 1 holds the header.
var header = []any{
	"ID", "Date", "Type", "Title", "Amount", "Currency",
	"Category", "Account", "Rule", "Occurrence", "Description",
}

const lastColumn = "K"

// Row positions are cached per transaction id. Every write goes through this
// client, so entries only drift when the sheet is edited by hand.
const (
	rowCacheSize = 10000
	rowCacheTTL  = 10 * time.Minute
)

type Options struct {
	SpreadsheetID string
	SheetName     string
	// CredentialsJSON wins over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	rows          *cache.LRUCache[int]
}

// Ensure interface conformance
var _ ports.LedgerWriter = (*Client)(nil)

// New creates a Sheets client. When extra client options are given they are
// used instead of the service account credentials in opts.
func New(ctx context.Context, opts Options, clientOpts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(opts.SheetName)
	if sheet == "" {
		sheet = DefaultSheetName
	}

	var (
		svc *gsheet.Service
		err error
	)
	if len(clientOpts) > 0 {
		svc, err = gsheet.NewService(ctx, clientOpts...)
	} else {
		svc, err = newSheetsService(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		rows:          cache.NewLRUCache[int](rowCacheSize, rowCacheTTL),
	}, nil
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
// Falls back to GOOGLE_APPLICATION_CREDENTIALS when opts carries none.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(opts.CredentialsJSON)
	serviceAccountFile := strings.TrimSpace(opts.CredentialsFile)
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		b, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
		goption.WithHTTPClient(newHTTPClientWithPooling()))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// newHTTPClientWithPooling creates an HTTP client for the Sheets API with
// connection pooling and bounded timeouts.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// UpsertTransaction rewrites the row holding tx.ID, or the first free row
// when the transaction is not in the sheet yet.
func (c *Client) UpsertTransaction(ctx context.Context, tx core.Transaction) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if strings.TrimSpace(tx.ID) == "" {
		return "", errors.New("transaction without id")
	}

	row, cached := c.rows.Get(tx.ID)
	if !cached {
		ids, err := c.readIDs(ctx)
		if err != nil {
			return "", err
		}
		if len(ids) == 0 {
			if err := c.writeRow(ctx, 1, header); err != nil {
				return "", fmt.Errorf("write header: %w", err)
			}
			ids = []string{"ID"}
		}
		row = rowFor(ids, tx.ID)
	}

	if err := c.writeRow(ctx, row, rowValues(tx)); err != nil {
		c.rows.Delete(tx.ID)
		return "", err
	}
	c.rows.Set(tx.ID, row)

	ref := fmt.Sprintf("%s!A%d:%s%d", c.sheet, row, lastColumn, row)
	slog.DebugContext(ctx, "Ledger row written", "transaction_id", tx.ID, "sheets_ref", ref, "cached", cached)
	return ref, nil
}

// RemoveTransaction clears the row of the transaction so later upserts can reuse it.
func (c *Client) RemoveTransaction(ctx context.Context, transactionID string) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}
	row, cached := c.rows.Get(transactionID)
	if !cached {
		ids, err := c.readIDs(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(ids, transactionID)
		if idx <= 0 {
			return nil
		}
		row = idx + 1
	}

	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheet, row, lastColumn, row)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}
	c.rows.Delete(transactionID)
	return nil
}

// readIDs returns column A, one entry per sheet row, blank rows included.
func (c *Client) readIDs(ctx context.Context) ([]string, error) {
	rng := fmt.Sprintf("%s!A:A", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, len(resp.Values))
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		out[i] = toStrings(row)[0]
	}
	return out, nil
}

func (c *Client) writeRow(ctx context.Context, row int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:%s%d", c.sheet, row, lastColumn, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", rng, err)
	}
	return nil
}

// rowFor returns the 1-based sheet row for id: its current row, else the first
// blank row below the header, else a new row at the end.
func rowFor(ids []string, id string) int {
	if idx := indexOf(ids, id); idx > 0 {
		return idx + 1
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] == "" {
			return i + 1
		}
	}
	return len(ids) + 1
}

func rowValues(tx core.Transaction) []any {
	return []any{
		tx.ID,
		tx.TransactionDate.String(),
		string(tx.Type),
		tx.Title,
		tx.Amount.String(),
		tx.Currency,
		tx.CategoryID,
		tx.AccountID,
		tx.RecurringRuleID,
		occurrenceCell(tx),
		tx.Description,
	}
}

func occurrenceCell(tx core.Transaction) string {
	if !tx.IsRecurring() {
		return ""
	}
	return tx.RecurrenceOccurrenceDate.String()
}

func toStrings(in []interface{}) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

func indexOf(arr []string, target string) int {
	target = strings.TrimSpace(target)
	if target == "" {
		return -1
	}
	for i, v := range arr {
		if strings.TrimSpace(v) == target {
			return i
		}
	}
	return -1
}
