package ingest

import (
	"strings"
)

// bom is the UTF-8 byte-order-mark some report producers prepend.
const bom = "\uFEFF"

// normalizeLines strips the BOM, normalizes line endings and returns all
// non-blank lines. The first line is the header.
func normalizeLines(content []byte) []string {
	text := strings.TrimPrefix(string(content), bom)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

// detectDelimiter prefers ';' over ',' when both could apply.
func detectDelimiter(header string) string {
	if strings.Contains(header, ";") {
		return ";"
	}
	return ","
}

// normalizeToken produces the canonical column name: trimmed, BOM residue
// stripped, uppercased.
func normalizeToken(token string) string {
	token = strings.TrimPrefix(token, bom)
	return strings.ToUpper(strings.TrimSpace(token))
}

// parseHeader splits and normalizes the header row.
func parseHeader(line, delim string) []string {
	raw := strings.Split(line, delim)
	cols := make([]string, len(raw))
	for i, token := range raw {
		cols[i] = normalizeToken(token)
	}
	return cols
}

// splitRow splits a data row and pads or truncates it to the header width.
// Column-count mismatches are tolerated, never fatal.
func splitRow(line, delim string, width int) []string {
	fields := strings.Split(line, delim)
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if len(fields) > width {
		return fields[:width]
	}
	for len(fields) < width {
		fields = append(fields, "")
	}
	return fields
}

// Column aliases seen across the historical report formats.
var (
	paymentIDColumns = []string{"PAYMENT_ID", "PAYMENTID", "TRANSACTION_ID", "TXN_ID"}
	amountColumns    = []string{"AMOUNT", "TXN_AMOUNT", "GROSS_AMOUNT"}
	currencyColumns  = []string{"CCY", "CURRENCY", "CURRENCY_CODE"}
	timestampColumns = []string{"TIMESTAMP", "TRANSACTION_DATE", "TXN_DATE", "DATE"}
	merchantColumns  = []string{"MERCHANT_ID", "MERCHANT", "MID"}
	referenceColumns = []string{"REFERENCE", "REFERENCE_NUMBER", "REF", "RRN"}
)

// firstValue returns the first non-empty value among the aliased columns.
func firstValue(record map[string]string, columns []string) string {
	for _, col := range columns {
		if v, ok := record[col]; ok && v != "" {
			return v
		}
	}
	return ""
}

// timestampLayouts are tried in order when parsing transaction timestamps.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
	"20060102150405",
	"02/01/2006 15:04:05",
}
