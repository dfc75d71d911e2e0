package services

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jung-kurt/gofpdf"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/solbill/netmetering/backend/models"
)

// PDFGenerator renders a computed invoice breakdown into a printable
// estimate. Breakdowns are never stored, so the PDF is rendered from a
// fresh computation every time.
type PDFGenerator struct {
	outputDir string
	currency  string
}

func NewPDFGenerator(outputDir, currency string) *PDFGenerator {
	return &PDFGenerator{outputDir: outputDir, currency: currency}
}

func (pg *PDFGenerator) GenerateInvoicePDF(breakdown models.InvoiceBreakdown, meter *models.Meter, periodDate time.Time) (string, error) {
	if err := os.MkdirAll(pg.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create invoices directory: %v", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	// Header
	pdf.SetFont("Arial", "B", 22)
	pdf.SetTextColor(21, 101, 52)
	pdf.Cell(0, 10, "Estimated Electricity Invoice")
	pdf.Ln(9)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, fmt.Sprintf("Billing period: %s", periodDate.Format("January 2006")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().Format("02.01.2006 15:04")))
	pdf.Ln(10)

	// Meter block
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, "METER")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.Cell(0, 5, fmt.Sprintf("Contador: %s", meter.Contador))
	pdf.Ln(4)
	if meter.Propietaria != "" {
		pdf.Cell(0, 5, fmt.Sprintf("Titular: %s", meter.Propietaria))
		pdf.Ln(4)
	}
	if meter.NIT != "" {
		pdf.Cell(0, 5, fmt.Sprintf("NIT: %s", meter.NIT))
		pdf.Ln(4)
	}
	pdf.Cell(0, 5, fmt.Sprintf("Distribuidora: %s / %s", meter.CompanyName, meter.Segment))
	pdf.Ln(10)

	// Energy summary
	pdf.SetFont("Arial", "B", 10)
	pdf.SetTextColor(100, 100, 100)
	pdf.Cell(0, 6, "ENERGY")
	pdf.Ln(6)

	pdf.SetFont("Arial", "", 10)
	pdf.SetTextColor(0, 0, 0)
	pdf.Cell(0, 5, fmt.Sprintf("Consumption: %.2f kWh", breakdown.ConsumptionKWh))
	pdf.Ln(4)
	pdf.Cell(0, 5, fmt.Sprintf("Solar export: %.2f kWh", breakdown.ProductionKWh))
	pdf.Ln(4)
	pdf.Cell(0, 5, fmt.Sprintf("Net billed energy: %.2f kWh", breakdown.NetEnergyKWh))
	pdf.Ln(10)

	// Line items
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(130, 8, "Concept", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 8, fmt.Sprintf("Amount (%s)", pg.currency), "1", 0, "R", true, 0, "")
	pdf.Ln(8)

	pdf.SetFont("Arial", "", 9)
	lineItem := func(label string, amount float64) {
		pdf.CellFormat(130, 7, label, "1", 0, "L", false, 0, "")
		pdf.CellFormat(50, 7, fmt.Sprintf("%.2f", amount), "1", 0, "R", false, 0, "")
		pdf.Ln(7)
	}

	lineItem("Fixed charge", breakdown.FixedChargeAmount)
	lineItem("Energy charge", breakdown.EnergyChargeAmount)
	lineItem("Distribution charge", breakdown.DistributionChargeAmount)
	lineItem("Demand charge (potencia)", breakdown.DemandChargeAmount)

	pdf.SetFont("Arial", "B", 9)
	lineItem("Subtotal before tax", breakdown.SubtotalBeforeTax)
	pdf.SetFont("Arial", "", 9)

	if breakdown.Tariff != nil {
		lineItem(fmt.Sprintf("IVA (%.1f%%)", breakdown.Tariff.IVAPercent), breakdown.VATAmount)
		lineItem(fmt.Sprintf("Contribution (%.1f%%)", breakdown.Tariff.ContribPercent), breakdown.ContribAmount)
	}
	if breakdown.CreditsAmount > 0 {
		lineItem("Credits applied", -breakdown.CreditsAmount)
	}

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(21, 101, 52)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(130, 9, "TOTAL DUE", "1", 0, "L", true, 0, "")
	pdf.CellFormat(50, 9, fmt.Sprintf("%s %.2f", pg.currency, breakdown.TotalDue), "1", 0, "R", true, 0, "")
	pdf.Ln(12)

	// Tariff reference
	pdf.SetFont("Arial", "", 8)
	pdf.SetTextColor(100, 100, 100)
	if breakdown.Tariff != nil {
		label := breakdown.Tariff.Code
		if label == "" {
			label = fmt.Sprintf("%s %s %s..%s", breakdown.Tariff.Company, breakdown.Tariff.Segment,
				breakdown.Tariff.PeriodFrom, breakdown.Tariff.PeriodTo)
		}
		if breakdown.Tariff.AutoCopied {
			label += " (backfilled)"
		}
		pdf.Cell(0, 5, "Tariff: "+label)
	} else {
		pdf.Cell(0, 5, "No tariff schedule matched this period; flat-rate estimate.")
	}
	pdf.Ln(8)

	// Payment reference QR
	qrContent := fmt.Sprintf("NETMETERING|%s|%s|%s|%.2f",
		meter.Contador, periodDate.Format("2006-01"), pg.currency, breakdown.TotalDue)
	if png, err := qrcode.Encode(qrContent, qrcode.Medium, 256); err == nil {
		opts := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader("payment-qr", opts, bytes.NewReader(png))
		pdf.ImageOptions("payment-qr", 15, pdf.GetY(), 30, 30, false, opts, 0, "")
	} else {
		log.Printf("WARNING: Failed to generate payment QR: %v", err)
	}

	filename := fmt.Sprintf("invoice-%s-%s.pdf", meter.Contador, periodDate.Format("2006-01"))
	fullPath := filepath.Join(pg.outputDir, filename)

	if err := pdf.OutputFileAndClose(fullPath); err != nil {
		return "", fmt.Errorf("failed to write PDF: %v", err)
	}

	log.Printf("SUCCESS: Generated invoice PDF %s", fullPath)
	return fullPath, nil
}
