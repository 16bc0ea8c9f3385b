package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/nerrad567/watchme-core/internal/report"
)

const behaviorSummaryTable = "behavior_summary"

// FetchBehaviorReport returns the device's report for date (yyyy-MM-dd).
// A day without a report returns (nil, nil).
func (c *Client) FetchBehaviorReport(ctx context.Context, deviceID, date string) (*report.Report, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("fetching report: empty device id")
	}

	var rows []report.Report
	err := c.do(ctx, request{
		method: http.MethodGet,
		table:  behaviorSummaryTable,
		query: url.Values{
			"device_id": {"eq." + deviceID},
			"date":      {"eq." + date},
			"select":    {"*"},
		},
	}, &rows)
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}
