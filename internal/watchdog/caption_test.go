package watchdog

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/table"
)

var _ = Describe("Caption", func() {
	It("should describe the row and when the screenshot was taken", func() {
		takenAt := time.Date(2025, 12, 31, 23, 59, 30, 0, time.UTC)
		row := table.NewRow("Wire transfer", "11:02 AM", decimal.RequireFromString("1234567.5"))

		Expect(Caption(takenAt, row)).To(Equal(
			"Screenshot taken at: 31/12/25 23:59\n\nEvent: Wire transfer\nTime: 11:02 AM\nAmount: $1,234,567.50",
		))
	})
})

var _ = Describe("ScreenshotName", func() {
	It("should be the timestamp with a png extension", func() {
		Expect(ScreenshotName(time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC))).To(Equal("20250304_050607.png"))
	})
})

var _ = DescribeTable("FormatAmount",
	func(amount string, expected string) {
		Expect(FormatAmount(decimal.RequireFromString(amount))).To(Equal(expected))
	},
	Entry("small amounts", "2", "2.00"),
	Entry("hundreds", "999.99", "999.99"),
	Entry("thousands", "15250", "15,250.00"),
	Entry("millions", "1000000", "1,000,000.00"),
	Entry("rounds to cents", "15000.005", "15,000.01"),
	Entry("negative amounts", "-15250.5", "-15,250.50"),
)
