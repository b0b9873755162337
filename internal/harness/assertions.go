package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/roach88/vdoc/internal/docstore"
	"github.com/roach88/vdoc/internal/row"
)

// evaluate runs every assertion and returns the failure messages.
func (h *Harness) evaluate(ctx context.Context, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := h.assert(ctx, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func (h *Harness) assert(ctx context.Context, a Assertion) error {
	switch a.Type {
	case AssertCurrent:
		r, ok, err := h.client.Get(ctx, a.Doc, a.ID)
		return expectCurrent(r, ok, err, a)

	case AssertAbsent:
		_, ok, err := h.client.Get(ctx, a.Doc, a.ID)
		return expectAbsent(ok, err, a)

	case AssertListed:
		rows, err := h.client.Find(ctx, a.Doc, docstore.FindOptions{IncludeDeleted: true})
		if err != nil {
			return err
		}
		for _, r := range rows {
			if r.ID != a.ID {
				continue
			}
			if r.IsDeleted() != a.Deleted {
				return fmt.Errorf("%s/%s: deleted = %v, want %v", a.Doc, a.ID, r.IsDeleted(), a.Deleted)
			}
			return nil
		}
		return fmt.Errorf("%s/%s not listed", a.Doc, a.ID)

	case AssertRemoteCurrent:
		r, ok, err := h.remote.ResolveCurrent(ctx, h.cfg.Remote.Table, h.key(a), nil, false)
		return expectCurrent(r, ok, err, a)

	case AssertRemoteAbsent:
		_, ok, err := h.remote.ResolveCurrent(ctx, h.cfg.Remote.Table, h.key(a), nil, false)
		return expectAbsent(ok, err, a)

	case AssertMaxRowsPerWrite:
		for _, w := range h.result.Writes() {
			if w.Rows > a.Count {
				return fmt.Errorf("step %d wrote %d rows, want at most %d", w.Step, w.Rows, a.Count)
			}
		}
		return nil

	case AssertTxStatus:
		tx, err := h.tx(a.Tx)
		if err != nil {
			return err
		}
		status, err := tx.Status(ctx)
		if err != nil {
			return err
		}
		if string(status) != a.Status {
			return fmt.Errorf("transaction %s is %s, want %s", a.Tx, status, a.Status)
		}
		return nil
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (h *Harness) key(a Assertion) row.Key {
	return row.Key{
		Namespace: h.cfg.Document.Namespace,
		Tenant:    h.cfg.Document.Tenant,
		Type:      a.Doc,
		ID:        a.ID,
	}
}

func expectCurrent(r row.VersionedRow, ok bool, err error, a Assertion) error {
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s/%s not found", a.Doc, a.ID)
	}
	return matchData(r.Data, a.Expect)
}

func expectAbsent(ok bool, err error, a Assertion) error {
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%s/%s exists", a.Doc, a.ID)
	}
	return nil
}

// matchData checks that every field of expect appears in data with an
// equal value (subset semantics). Both sides pass through encoding/json so
// YAML integers compare equal to JSON numbers.
func matchData(data json.RawMessage, expect map[string]any) error {
	if len(expect) == 0 {
		return nil
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	b, err := json.Marshal(expect)
	if err != nil {
		return fmt.Errorf("encode expect: %w", err)
	}
	var want map[string]any
	if err := json.Unmarshal(b, &want); err != nil {
		return fmt.Errorf("decode expect: %w", err)
	}
	for k, v := range want {
		if !reflect.DeepEqual(got[k], v) {
			return fmt.Errorf("field %q = %v, want %v", k, got[k], v)
		}
	}
	return nil
}
