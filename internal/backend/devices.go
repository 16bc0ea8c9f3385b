package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

const devicesTable = "devices"

// Device is a row of the devices table.
type Device struct {
	DeviceID           string `json:"device_id" validate:"required"`
	PlatformIdentifier string `json:"platform_identifier" validate:"required"`
	DeviceType         string `json:"device_type"`
	PlatformType       string `json:"platform_type"`
	OwnerUserID        string `json:"owner_user_id,omitempty"`
}

// DeviceInsert is the payload of UpsertDevice. An empty OwnerUserID
// registers a guest device and leaves an existing owner untouched.
type DeviceInsert struct {
	PlatformIdentifier string `json:"platform_identifier"`
	DeviceType         string `json:"device_type"`
	PlatformType       string `json:"platform_type"`
	OwnerUserID        string `json:"owner_user_id,omitempty"`
}

// UpsertDevice inserts the device, or merges into the existing row with
// the same platform identifier, and returns the stored row. Repeating the
// call for one platform identifier always returns the same device id.
func (c *Client) UpsertDevice(ctx context.Context, in DeviceInsert) (*Device, error) {
	if in.PlatformIdentifier == "" {
		return nil, fmt.Errorf("upserting device: empty platform identifier")
	}

	var rows []Device
	err := c.do(ctx, request{
		method: http.MethodPost,
		table:  devicesTable,
		query:  url.Values{"on_conflict": {"platform_identifier"}},
		body:   in,
		prefer: "resolution=merge-duplicates,return=representation",
	}, &rows)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, ErrNoDeviceReturned
	}
	dev := rows[0]
	if err := validate.Struct(dev); err != nil {
		return nil, fmt.Errorf("%w: device row: %w", ErrInvalidResponse, err)
	}
	return &dev, nil
}

// ListDevicesByOwner returns every device owned by the user, in backend
// order. A user without devices gets an empty slice.
func (c *Client) ListDevicesByOwner(ctx context.Context, ownerUserID string) ([]Device, error) {
	if ownerUserID == "" {
		return nil, fmt.Errorf("listing devices: empty owner user id")
	}

	var rows []Device
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  devicesTable,
		query: url.Values{
			"owner_user_id": {"eq." + ownerUserID},
			"select":        {"*"},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}

	for i := range rows {
		if err := validate.Struct(rows[i]); err != nil {
			return nil, fmt.Errorf("%w: device row %d: %w", ErrInvalidResponse, i, err)
		}
	}
	if rows == nil {
		rows = []Device{}
	}
	return rows, nil
}
