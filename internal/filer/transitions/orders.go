package transitions

import (
	"context"
	"fmt"

	"entityfiler/internal/filer"
)

func courtOrder(_ context.Context, in filer.Input) (filer.Output, error) {
	var p courtOrderPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.FileNumber == "" {
		return filer.Output{}, fmt.Errorf("court order file number required")
	}
	co, err := courtOrderFrom(&p)
	if err != nil {
		return filer.Output{}, err
	}
	f := in.Filing
	f.CourtOrder = co
	f.OrderDetails = p.OrderDetails
	section := map[string]any{"fileNumber": p.FileNumber, "effectOfOrder": p.EffectOfOrder}
	if co.OrderDate != nil {
		section["orderDate"] = co.OrderDate.UTC().Format("2006-01-02T15:04:05Z07:00")
	}
	in.Meta.Set(string(filer.TypeCourtOrder), section)
	return filer.Output{Business: in.Business, Filing: f}, nil
}

// orderTransition records a registrar's notation or order on the filing.
type orderTransition struct {
	section string
}

func (t orderTransition) Apply(_ context.Context, in filer.Input) (filer.Output, error) {
	var p courtOrderPayload
	if err := decode(in.Payload, &p); err != nil {
		return filer.Output{}, err
	}
	if p.OrderDetails == "" {
		return filer.Output{}, fmt.Errorf("%s requires order details", t.section)
	}
	f := in.Filing
	f.OrderDetails = p.OrderDetails
	co, err := courtOrderFrom(&p)
	if err != nil {
		return filer.Output{}, err
	}
	section := map[string]any{"orderDetails": p.OrderDetails}
	if co != nil {
		f.CourtOrder = co
		section["fileNumber"] = co.FileNumber
		section["effectOfOrder"] = co.EffectOfOrder
	}
	in.Meta.Set(t.section, section)
	return filer.Output{Business: in.Business, Filing: f}, nil
}
