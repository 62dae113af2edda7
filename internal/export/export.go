// Package export renders operator-facing artifacts from a session.
// Everything here is a pure function of its input; nothing touches
// scheduler state.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/jask/shelfwatch/internal/inventory"
)

const (
	fromName  = "McDonald's"
	fromLine1 = "37 Queen's Road Central, Yu To Sang Building"
	fromLine2 = "Central, Hong Kong"
	toName    = "Votee Limited"
	toLine1   = "4/F 9 Queen's Road Central,"
	toLine2   = "Central"
	toLine3   = "Hong Kong"
)

// PONumber derives the purchase-order number for a point in time.
func PONumber(now time.Time) string {
	return strconv.FormatInt(now.UnixMilli(), 10)
}

// OrderPDF renders a purchase order. Lines with quantity 0 are skipped.
func OrderPDF(lines []inventory.StockItem, poNumber string, now time.Time) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 28)
	pdf.SetXY(20, 18)
	pdf.CellFormat(170, 10, "Purchase Order", "", 0, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.SetXY(20, 31)
	pdf.CellFormat(170, 5, "Date: "+now.Format("02/01/2006"), "", 0, "R", false, 0, "")
	pdf.SetXY(20, 36)
	pdf.CellFormat(170, 5, "PO #: "+poNumber, "", 0, "R", false, 0, "")

	addressBlock(pdf, 20, 50, "FROM", fromName, fromLine1, fromLine2)
	addressBlock(pdf, 110, 50, "TO", toName, toLine1, toLine2, toLine3)

	pdf.SetLineWidth(0.5)
	pdf.Line(20, 85, 190, 85)

	y := 92.0
	pdf.SetFont("Helvetica", "B", 10)
	pdf.Text(20, y, "ITEM NAME")
	pdf.Text(130, y, "QUANTITY")
	pdf.Text(170, y, "UNIT")
	pdf.SetFont("Helvetica", "", 10)
	y += 2
	pdf.SetLineWidth(0.2)
	pdf.Line(20, y, 190, y)
	y += 6

	for _, l := range lines {
		if l.Quantity <= 0 {
			continue
		}
		pdf.Text(20, y, l.Name)
		pdf.Text(140, y, strconv.Itoa(l.Quantity))
		pdf.Text(170, y, l.Unit)
		y += 7
	}
	y -= 3
	pdf.Line(20, y, 190, y)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render order pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func addressBlock(pdf *fpdf.Fpdf, x, y float64, label string, lines ...string) {
	pdf.SetFont("Helvetica", "B", 8)
	pdf.Text(x, y, label)
	pdf.SetFont("Helvetica", "", 10)
	for i, l := range lines {
		pdf.Text(x, y+6+float64(i)*5, l)
	}
}

// SnapshotCSV renders a snapshot as id,name,quantity,unit rows.
func SnapshotCSV(snap inventory.Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"id", "name", "quantity", "unit"}); err != nil {
		return nil, err
	}
	for _, s := range snap {
		if err := w.Write([]string{s.ID, s.Name, strconv.Itoa(s.Quantity), s.Unit}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SupplierEmail composes the order e-mail the operator sends alongside
// the PDF. Requested delivery is two days out.
func SupplierEmail(poNumber string, now time.Time) (subject, body string) {
	subject = "Purchase Order - PO #" + poNumber
	delivery := now.AddDate(0, 0, 2).Format("January 2, 2006")
	body = fmt.Sprintf(`Hi Supplier Team,

Hope you're having a great week!

Please find our latest purchase order, PO #%s, attached to this email. We'd like to request delivery for our usual slot on %s.

Could you please confirm receipt of this order and the scheduled delivery date at your earliest convenience?

Thanks as always for your great service and partnership.

Best regards,
Kendra Bui
Restaurant Manager
McDonald's - Central Hong Kong`, poNumber, delivery)
	return subject, body
}
