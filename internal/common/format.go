package common

import (
	"fmt"
	"strings"

	"grove-ledger-go/internal/models"
)

const (
	DefaultWidth = 80
	WideWidth    = 100
)

// Field is one labelled line of a report block.
type Field struct {
	Label string
	Value any
}

func F(label string, value any) Field { return Field{Label: label, Value: value} }

// PrintSeparator prints a line of char repeated width times.
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader opens a report block.
func PrintHeader(title string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter closes a report block with a summary line.
func PrintFooter(message string, width int) {
	fmt.Println()
	PrintSeparator("=", width)
	fmt.Println(message)
	PrintSeparator("=", width)
	fmt.Println()
}

// PrintFields prints label/value lines with the values aligned.
func PrintFields(fields ...Field) {
	pad := 0
	for _, f := range fields {
		pad = max(pad, len(f.Label))
	}
	for _, f := range fields {
		fmt.Printf("%-*s %v\n", pad+1, f.Label+":", f.Value)
	}
}

// PrintSection starts a boxed list of count entries below a report header.
func PrintSection(title string, count, width int) {
	fmt.Printf("\n┌─ %s: %d\n", title, count)
	fmt.Println("├" + strings.Repeat("─", width-2))
}

// BoxPrefix returns the box-drawing prefix of a list entry.
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// PrintBatchReport prints the outcome of a holder payout batch, failed
// holders last.
func PrintBatchReport(report models.BatchReport) {
	PrintFields(
		F("Distribution", report.DistributionId),
		F("Paid holders", fmt.Sprintf("%d (%s)", report.SuccessCount, report.PaidAmount)),
		F("Failed", report.FailureCount),
		F("Skipped", report.SkippedCount),
		F("Completed", report.Completed),
	)
	for i, f := range report.FailedHolders {
		fmt.Printf("%s %-20s %s: %s\n", BoxPrefix(i == len(report.FailedHolders)-1), f.Holder, f.Amount, f.Error)
	}
}
