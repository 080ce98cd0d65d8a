package reconcile

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/costmanagement/armcostmanagement"
)

// DefaultPageSize is the number of CSV rows yielded per page
const DefaultPageSize = 7000

// Record is one raw vendor row keyed by lower-cased field name.
// Values are string, float64 or nil.
type Record map[string]any

// TablePage is one decoded page of a Cost Management query
type TablePage struct {
	Records  []Record
	NextLink string
}

// nullSentinels are CSV cell values treated as absent
var nullSentinels = map[string]struct{}{
	"":     {},
	"NaN":  {},
	"NULL": {},
	"null": {},
}

// Table zips column names with each row, preserving row order.
// Rows shorter than the header leave the missing fields unset.
func Table(columns []string, rows [][]any) []Record {
	keys := make([]string, len(columns))
	for i, c := range columns {
		keys[i] = strings.ToLower(c)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec := make(Record, len(keys))
		for i, key := range keys {
			if i >= len(row) {
				break
			}
			rec[key] = row[i]
		}
		records = append(records, rec)
	}
	return records
}

// DecodeTable decodes a query result body into records and the next page link
func DecodeTable(body []byte) (TablePage, error) {
	var result armcostmanagement.QueryResult
	if err := json.Unmarshal(body, &result); err != nil {
		return TablePage{}, fmt.Errorf("failed to decode query result: %w", err)
	}
	return FromQueryResult(result), nil
}

// FromQueryResult converts a typed query result into a TablePage
func FromQueryResult(result armcostmanagement.QueryResult) TablePage {
	var page TablePage
	if result.Properties == nil {
		return page
	}

	columns := make([]string, 0, len(result.Properties.Columns))
	for _, col := range result.Properties.Columns {
		if col == nil || col.Name == nil {
			columns = append(columns, "")
			continue
		}
		columns = append(columns, *col.Name)
	}

	page.Records = Table(columns, result.Properties.Rows)
	if result.Properties.NextLink != nil {
		page.NextLink = *result.Properties.NextLink
	}
	return page
}

// CSVReader streams a cost details CSV in fixed-size pages
type CSVReader struct {
	r        *csv.Reader
	header   []string
	pageSize int
	done     bool
}

// NewCSVReader reads the header row and prepares paging.
// A pageSize below one uses DefaultPageSize.
func NewCSVReader(r io.Reader, pageSize int) (*CSVReader, error) {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &CSVReader{r: cr, pageSize: pageSize, done: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	keys := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		keys[i] = strings.ToLower(strings.TrimSpace(h))
	}

	return &CSVReader{r: cr, header: keys, pageSize: pageSize}, nil
}

// Header returns the lower-cased column names
func (c *CSVReader) Header() []string {
	return c.header
}

// Next returns the next page of records, or io.EOF once the input is exhausted
func (c *CSVReader) Next() ([]Record, error) {
	if c.done {
		return nil, io.EOF
	}

	page := make([]Record, 0, min(c.pageSize, 1024))
	for len(page) < c.pageSize {
		row, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		rec := make(Record, len(c.header))
		for i, key := range c.header {
			if i >= len(row) {
				rec[key] = nil
				continue
			}
			if _, null := nullSentinels[row[i]]; null {
				rec[key] = nil
				continue
			}
			rec[key] = row[i]
		}
		page = append(page, rec)
	}

	if len(page) == 0 {
		return nil, io.EOF
	}
	return page, nil
}
