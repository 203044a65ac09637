package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistorySource answers prior-transaction queries from the merchant's own
// transaction store. Match flags are computed against the disputed
// transaction's identity signals in SQL.
type HistorySource struct {
	pool *pgxpool.Pool
}

func NewHistorySource(pool *pgxpool.Pool) *HistorySource {
	return &HistorySource{pool: pool}
}

func (s *HistorySource) QueryByReference(ctx context.Context, kind Kind, params map[string]string) ([]byte, error) {
	ref := params["transaction_ref"]
	if ref == "" {
		return nil, fmt.Errorf("evidence: history query missing transaction_ref")
	}

	// The disputed transaction anchors both the customer and the identity
	// signals the history is compared against.
	const query = `
		SELECT t.id::text, t.amount_cents, t.currency, t.occurred_at, t.disputed,
		       t.device_fingerprint <> '' AND t.device_fingerprint = a.device_fingerprint,
		       t.ip_address <> '' AND t.ip_address = a.ip_address,
		       t.email <> '' AND t.email = a.email,
		       t.shipping_address <> '' AND t.shipping_address = a.shipping_address
		FROM merchant_transactions t
		JOIN merchant_transactions a ON a.id::text = $1
		WHERE t.customer_ref = a.customer_ref AND t.id::text <> $1
		ORDER BY t.occurred_at DESC
		LIMIT 50
	`
	rows, err := s.pool.Query(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("evidence: history query: %w", err)
	}
	defer rows.Close()

	records := make([]TransactionRecord, 0, 8)
	for rows.Next() {
		var rec TransactionRecord
		if err := rows.Scan(&rec.Ref, &rec.AmountCents, &rec.Currency, &rec.OccurredAt, &rec.Disputed,
			&rec.DeviceMatch, &rec.IPMatch, &rec.EmailMatch, &rec.AddressMatch); err != nil {
			return nil, fmt.Errorf("evidence: history scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("evidence: history iterate: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrSourceNotFound
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("evidence: history marshal: %w", err)
	}
	return payload, nil
}

// HTTPSource reaches an external evidence system (payment platform, shipping
// carrier) over HTTP. Responses are passed through as the fragment payload.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

func (s *HTTPSource) QueryByReference(ctx context.Context, kind Kind, params map[string]string) ([]byte, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	endpoint := fmt.Sprintf("%s/evidence/%s?%s", s.baseURL, kind, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("evidence: query %s: %w", kind, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrSourceNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("evidence: source returned %d for %s", resp.StatusCode, kind)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("evidence: read payload: %w", err)
	}
	return payload, nil
}
