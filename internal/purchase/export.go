package purchase

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const exportSheet = "Purchases"

// writeXLSX renders purchases as a spreadsheet, one row per purchase plus a total row
func writeXLSX(purchases []*Purchase) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return nil, fmt.Errorf("naming sheet: %w", err)
	}

	headers := []string{"Date", "Supplier", "RUT", "Total", "Items", "Created"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(exportSheet, cell, h)
	}

	row := 2
	for _, p := range purchases {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(exportSheet, cell, v)
		}

		write(1, deref(p.Date))
		write(2, deref(p.Supplier))
		write(3, deref(p.RUT))
		if p.Total != nil {
			write(4, *p.Total)
		}
		write(5, itemNames(p))
		write(6, p.CreatedAt.Format("2006-01-02 15:04"))
		row++
	}

	totalLabel, _ := excelize.CoordinatesToCellName(3, row)
	totalCell, _ := excelize.CoordinatesToCellName(4, row)
	_ = f.SetCellValue(exportSheet, totalLabel, "Total")
	_ = f.SetCellValue(exportSheet, totalCell, sumTotals(purchases))

	_ = f.SetColWidth(exportSheet, "A", "A", 12) // date
	_ = f.SetColWidth(exportSheet, "B", "B", 32) // supplier
	_ = f.SetColWidth(exportSheet, "C", "C", 14) // rut
	_ = f.SetColWidth(exportSheet, "D", "D", 12) // total
	_ = f.SetColWidth(exportSheet, "E", "E", 60) // items
	_ = f.SetColWidth(exportSheet, "F", "F", 18)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func itemNames(p *Purchase) string {
	names := make([]string, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Name != "" {
			names = append(names, it.Name)
		}
	}
	return strings.Join(names, ", ")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
