package inventory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"time"
)

// =============================================================================
// PAGINATION - Offset and keyset reads over the ledger
// =============================================================================
//
// The ledger is listed by (TransactionDate DESC, ID DESC). ID comes from a
// monotonic sequence, so the tuple is a total order and a cursor taken from
// one row stays valid while new rows are appended.

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 200
)

type PageDirection string

const (
	PageForward  PageDirection = "forward"
	PageBackward PageDirection = "backward"
)

// PageRequest selects offset mode (Page/Limit) or cursor mode (Cursor or
// Direction set).
type PageRequest struct {
	Page      int
	Limit     int
	Cursor    string
	Direction PageDirection
}

// CursorMode reports whether p asks for keyset pagination.
func (p PageRequest) CursorMode() bool {
	return p.Cursor != "" || p.Direction != ""
}

// PageInfo describes the returned page. Offset fields are zero in cursor
// mode and cursor fields are empty in offset mode.
type PageInfo struct {
	Page       int
	Limit      int
	TotalCount int
	TotalPages int

	NextCursor string
	PrevCursor string
	HasNext    bool
	HasPrev    bool
}

type TransactionPage struct {
	Transactions []Transaction
	Page         PageInfo
}

type cursorPayload struct {
	Date time.Time `json:"date"`
	ID   int64     `json:"id"`
}

// EncodeCursor renders k as base64url(JSON).
func EncodeCursor(k LedgerKey) string {
	b, _ := json.Marshal(cursorPayload{Date: k.Date.UTC(), ID: int64(k.ID)})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (LedgerKey, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return LedgerKey{}, invalid("cursor", "유효하지 않은 커서입니다.")
	}
	var c cursorPayload
	if err := json.Unmarshal(raw, &c); err != nil || c.ID <= 0 || c.Date.IsZero() {
		return LedgerKey{}, invalid("cursor", "유효하지 않은 커서입니다.")
	}
	return LedgerKey{Date: c.Date.UTC(), ID: TransactionID(c.ID)}, nil
}

func keyOf(t Transaction) LedgerKey {
	return LedgerKey{Date: t.TransactionDate, ID: t.ID}
}

func validateFilter(f TransactionFilter) error {
	if f.Type != "" && !f.Type.Valid() {
		return invalid("transaction_type", "유효하지 않은 거래 유형입니다: "+string(f.Type))
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateFrom.After(*f.DateTo) {
		return invalid("date_from", "시작일이 종료일보다 늦을 수 없습니다.")
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// List returns one page of the ledger.
func (l *Ledger) List(ctx context.Context, f TransactionFilter, p PageRequest) (*TransactionPage, error) {
	if err := validateFilter(f); err != nil {
		return nil, err
	}
	if p.Direction != "" && p.Direction != PageForward && p.Direction != PageBackward {
		return nil, invalid("direction", "방향은 forward 또는 backward 여야 합니다.")
	}
	limit := clampLimit(p.Limit)
	if p.CursorMode() {
		return l.listCursor(ctx, f, p, limit)
	}
	return l.listOffset(ctx, f, p, limit)
}

func (l *Ledger) listOffset(ctx context.Context, f TransactionFilter, p PageRequest, limit int) (*TransactionPage, error) {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	if page-1 > math.MaxInt32/limit {
		return nil, invalid("page", "페이지 번호가 너무 큽니다.")
	}
	offset := (page - 1) * limit
	total, err := l.Store.CountTransactions(ctx, f)
	if err != nil {
		return nil, Storage("count transactions", err, true)
	}
	rows := []Transaction{}
	if offset < total {
		rows, err = l.Store.QueryTransactions(ctx, TransactionQuery{
			TransactionFilter: f,
			Offset:            offset,
			Limit:             limit,
		})
		if err != nil {
			return nil, Storage("query transactions", err, true)
		}
	}
	pages := (total + limit - 1) / limit
	return &TransactionPage{
		Transactions: rows,
		Page: PageInfo{
			Page:       page,
			Limit:      limit,
			TotalCount: total,
			TotalPages: pages,
			HasNext:    page < pages,
			HasPrev:    page > 1,
		},
	}, nil
}

func (l *Ledger) listCursor(ctx context.Context, f TransactionFilter, p PageRequest, limit int) (*TransactionPage, error) {
	var key *LedgerKey
	if p.Cursor != "" {
		k, err := DecodeCursor(p.Cursor)
		if err != nil {
			return nil, err
		}
		key = &k
	}

	q := TransactionQuery{TransactionFilter: f, Limit: limit + 1}
	backward := p.Direction == PageBackward && key != nil
	if backward {
		q.Before = key
	} else {
		q.After = key
	}

	rows, err := l.Store.QueryTransactions(ctx, q)
	if err != nil {
		return nil, Storage("query transactions", err, true)
	}

	info := PageInfo{Limit: limit}
	if backward {
		// Rows are in list order; the surplus row is the one farthest
		// from the cursor, i.e. the first.
		info.HasPrev = len(rows) > limit
		if info.HasPrev {
			rows = rows[1:]
		}
		info.HasNext = true
	} else {
		info.HasNext = len(rows) > limit
		if info.HasNext {
			rows = rows[:limit]
		}
		info.HasPrev = key != nil
	}
	if len(rows) > 0 {
		if info.HasNext {
			info.NextCursor = EncodeCursor(keyOf(rows[len(rows)-1]))
		}
		if info.HasPrev {
			info.PrevCursor = EncodeCursor(keyOf(rows[0]))
		}
	} else if backward {
		info.HasNext = true
		info.NextCursor = p.Cursor
	}
	return &TransactionPage{Transactions: rows, Page: info}, nil
}
