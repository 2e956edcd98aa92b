package inventory

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/franchisepos/inventory/internal/shared"
)

const reportSheet = "Daily Inventory"

var reportHeaders = []string{"Date", "Location", "Ingredient", "Unit", "Opening Stock", "Prepared", "Used", "Closing Stock"}

// WriteReportXLSX renders rows as a single-sheet workbook.
func WriteReportXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", reportSheet); err != nil {
		return err
	}
	for i, h := range reportHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(reportSheet, cell, h); err != nil {
			return err
		}
	}
	for i, row := range rows {
		row = row.Display()
		values := []any{
			shared.FormatDate(row.Date),
			row.LocationName,
			row.IngredientName,
			row.Unit,
			row.OpeningStock,
			row.PreparedQty,
			row.UsedQty,
			row.ClosingStock,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(reportSheet, cell, &values); err != nil {
			return err
		}
	}
	if err := f.SetPanes(reportSheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"}); err != nil {
		return err
	}
	_, err := f.WriteTo(w)
	return err
}
