package notify

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/table"
)

var _ = Describe("BoltHistory", func() {
	var (
		dbPath  string
		history *BoltHistory
		alert   *Alert
	)

	BeforeEach(func() {
		dbPath = filepath.Join(GinkgoT().TempDir(), "alerts.db")
		var err error
		history, err = NewBoltHistory(dbPath)
		Expect(err).NotTo(HaveOccurred())

		at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		alert = &Alert{
			ID:        "0190a1b2-0000-7000-8000-000000000001",
			CreatedAt: at,
			Row:       table.NewRow("Deposit", "3:15 PM", decimal.RequireFromString("15250.00")),
			ImagePath: "screens/20250601_120000.png",
			Caption:   "Event: Deposit",
			Deliveries: []DeliveryResult{
				{Recipient: 101, OK: true, At: at},
				{Recipient: 202, OK: false, Error: "blocked", At: at},
			},
		}
	})

	AfterEach(func() {
		if history != nil {
			history.Close()
		}
	})

	Describe("SaveAlert", func() {
		var err error

		JustBeforeEach(func() {
			err = history.SaveAlert(alert)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should save the alert", func() {
				saved, getErr := history.GetAlert(alert.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.ImagePath).To(Equal(alert.ImagePath))
				Expect(saved.Row.Event).To(Equal("Deposit"))
				Expect(saved.Row.Amount.Equal(alert.Row.Amount)).To(BeTrue())
				Expect(saved.Row.ID).To(Equal(alert.Row.ID))
				Expect(saved.CreatedAt.Equal(alert.CreatedAt)).To(BeTrue())
			})

			It("should keep every delivery result", func() {
				saved, getErr := history.GetAlert(alert.ID)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved.Deliveries).To(HaveLen(2))
				Expect(saved.Deliveries[1].Recipient).To(Equal(Recipient(202)))
				Expect(saved.Deliveries[1].Error).To(Equal("blocked"))
			})
		})

		When("the alert has no id", func() {
			BeforeEach(func() {
				alert.ID = ""
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("GetAlert", func() {
		When("the alert does not exist", func() {
			It("returns ErrAlertNotFound", func() {
				_, err := history.GetAlert("missing")
				Expect(errors.Is(err, ErrAlertNotFound)).To(BeTrue())
			})
		})
	})

	Describe("ListAlerts", func() {
		When("there are no alerts", func() {
			It("should return an empty list", func() {
				alerts, err := history.ListAlerts()
				Expect(err).NotTo(HaveOccurred())
				Expect(alerts).To(BeEmpty())
			})
		})

		When("alerts were saved out of order", func() {
			BeforeEach(func() {
				later := *alert
				later.ID = "0190a1b2-0000-7000-8000-000000000002"
				Expect(history.SaveAlert(&later)).To(Succeed())
				Expect(history.SaveAlert(alert)).To(Succeed())
			})

			It("should list them by id", func() {
				alerts, err := history.ListAlerts()
				Expect(err).NotTo(HaveOccurred())
				Expect(alerts).To(HaveLen(2))
				Expect(alerts[0].ID).To(Equal("0190a1b2-0000-7000-8000-000000000001"))
				Expect(alerts[1].ID).To(Equal("0190a1b2-0000-7000-8000-000000000002"))
			})
		})
	})

	When("the database is reopened", func() {
		It("should keep the saved alerts", func() {
			Expect(history.SaveAlert(alert)).To(Succeed())
			Expect(history.Close()).To(Succeed())

			reopened, err := NewBoltHistory(dbPath)
			Expect(err).NotTo(HaveOccurred())
			history = reopened

			alerts, err := history.ListAlerts()
			Expect(err).NotTo(HaveOccurred())
			Expect(alerts).To(HaveLen(1))
		})
	})
})
