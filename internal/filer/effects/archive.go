package effects

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"entityfiler/internal/blob/core"
	"entityfiler/internal/filer"
)

// ArchiveObject is the object name of the archived submission under the
// filing's key prefix.
const ArchiveObject = "filing.json"

// DocumentWriter is the write-once document store capability.
type DocumentWriter interface {
	Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error)
}

// DocumentArchive copies the committed submission and its meta into the
// document store, keyed by business identifier and filing id.
type DocumentArchive struct {
	Documents DocumentWriter
}

// Name implements filer.SideEffect.
func (DocumentArchive) Name() string { return "document_archive" }

// Applies implements filer.SideEffect.
func (DocumentArchive) Applies(o filer.Outcome) bool {
	return o.Business.Identifier != "" && len(o.Filing.JSON) > 0
}

// Run implements filer.SideEffect. A redelivered filing finds its archive
// already written and succeeds.
func (a DocumentArchive) Run(ctx context.Context, o filer.Outcome) error {
	body, err := ArchiveRecord(o)
	if err != nil {
		return err
	}
	key := core.FilingKey(o.Business.Identifier, o.Filing.ID, ArchiveObject)
	_, err = a.Documents.Put(ctx, key, bytes.NewReader(body), core.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"filing-type":    o.Filing.FilingType,
			"transaction-id": strconv.FormatInt(o.TransactionID, 10),
		},
	})
	if err != nil && !errors.Is(err, core.ErrExists) {
		return fmt.Errorf("archive filing %d: %w", o.Filing.ID, err)
	}
	return nil
}

// ArchiveRecord renders {"filing":<submission>,"meta":<meta>,"transactionId":n}.
func ArchiveRecord(o filer.Outcome) ([]byte, error) {
	record := map[string]any{
		"filing":        json.RawMessage(o.Filing.JSON),
		"transactionId": o.TransactionID,
	}
	if len(bytes.TrimSpace(o.Filing.Meta)) > 0 {
		record["meta"] = json.RawMessage(o.Filing.Meta)
	}
	body, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode archive for filing %d: %w", o.Filing.ID, err)
	}
	return body, nil
}
