package watchdog_test

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
	"github.com/shopspring/decimal"

	"github.com/zombor/screen-watchdog/internal/ledger"
	"github.com/zombor/screen-watchdog/internal/notify"
	"github.com/zombor/screen-watchdog/internal/screen"
	"github.com/zombor/screen-watchdog/internal/watchdog"
)

const botToken = "987654:XYZ-integration"

type scriptedOCR struct {
	text string
}

func (s *scriptedOCR) Recognize(_ context.Context, _ []byte, _ string) (string, error) {
	return s.text, nil
}

func (s *scriptedOCR) Close() error {
	return nil
}

type staticIDs struct{}

func (staticIDs) Generate() string {
	return "0190a1b2-0000-7000-8000-0000000000aa"
}

type staticClock struct{}

func (staticClock) Now() time.Time {
	return time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
}

func noSleep(_ context.Context, _ time.Duration) error {
	return nil
}

var _ = Describe("Watchdog end to end", func() {
	var (
		dir      string
		server   *ghttp.Server
		store    *ledger.Store
		history  *notify.BoltHistory
		dog      *watchdog.Watchdog
		cycle    watchdog.Cycle
		tickErr  error
		imageDir string
	)

	sendPhotoTo := func(chatID string, status int, body string) http.HandlerFunc {
		return ghttp.CombineHandlers(
			ghttp.VerifyRequest(http.MethodPost, "/bot"+botToken+"/sendPhoto"),
			func(w http.ResponseWriter, r *http.Request) {
				Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
				Expect(r.FormValue("chat_id")).To(Equal(chatID))
				Expect(r.FormValue("caption")).To(ContainSubstring("Amount: $15,250.00"))

				written, err := os.ReadFile(store.Path())
				Expect(err).NotTo(HaveOccurred())
				Expect(string(written)).To(ContainSubstring(`"amount": 15250.00`))
			},
			ghttp.RespondWith(status, body),
		)
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		imageDir = filepath.Join(dir, "screens")

		screenPath := filepath.Join(dir, "screen.png")
		var buf bytes.Buffer
		Expect(png.Encode(&buf, image.NewGray(image.Rect(0, 0, 320, 200)))).To(Succeed())
		Expect(os.WriteFile(screenPath, buf.Bytes(), 0644)).To(Succeed())

		server = ghttp.NewServer()
		server.AppendHandlers(
			ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/bot"+botToken+"/getUpdates"),
				ghttp.RespondWith(http.StatusOK, `{"ok": true, "result": [
					{"update_id": 1, "message": {"chat": {"id": 101}}},
					{"update_id": 2, "message": {"chat": {"id": 202}}},
					{"update_id": 3, "message": {"chat": {"id": 303}}}
				]}`),
			),
			sendPhotoTo("101", http.StatusOK, `{"ok": true, "result": {}}`),
			sendPhotoTo("202", http.StatusForbidden, `{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"}`),
			sendPhotoTo("303", http.StatusOK, `{"ok": true, "result": {}}`),
		)

		store = ledger.NewStore(filepath.Join(dir, "table_rows.json"))

		var err error
		history, err = notify.NewBoltHistory(filepath.Join(dir, "alerts.db"))
		Expect(err).NotTo(HaveOccurred())

		archive, err := watchdog.NewLocalArchive(imageDir)
		Expect(err).NotTo(HaveOccurred())

		telegram := notify.NewTelegram(botToken, server.URL())
		dog, err = watchdog.NewWithDeps(
			watchdog.Options{
				Interval:  time.Second,
				Radius:    50,
				Threshold: decimal.NewFromInt(15000),
			},
			watchdog.Deps{
				Capturer:   screen.NewFileSource(screenPath, staticClock{}.Now),
				Recognizer: &scriptedOCR{text: "Deposit $15,250.00 3:15 PM\nCoffee $4.50 3:01 PM"},
				Ledger:     store,
				Archive:    archive,
				Notifier:   notify.NewFanout(telegram, telegram),
				History:    history,
			},
			staticIDs{}, staticClock{}, noSleep,
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
		history.Close()
	})

	JustBeforeEach(func() {
		cycle, tickErr = dog.Tick(context.Background())
	})

	It("should alert every recipient even when one fails", func() {
		Expect(tickErr).NotTo(HaveOccurred())
		Expect(cycle.State).To(Equal(watchdog.StateAlerted))
		Expect(server.ReceivedRequests()).To(HaveLen(4))

		deliveries := cycle.Alert.Deliveries
		Expect(deliveries).To(HaveLen(3))
		Expect(deliveries[0].OK).To(BeTrue())
		Expect(deliveries[1].OK).To(BeFalse())
		Expect(deliveries[1].Error).To(ContainSubstring("blocked"))
		Expect(deliveries[2].OK).To(BeTrue())
		Expect(notify.Delivered(deliveries)).To(Equal(2))
	})

	It("should archive the screenshot that was sent", func() {
		Expect(cycle.Alert.ImagePath).To(Equal(filepath.Join(imageDir, "20250601_093000.png")))
		Expect(cycle.Alert.ImagePath).To(BeAnExistingFile())
	})

	It("should record the alert history", func() {
		saved, err := history.GetAlert("0190a1b2-0000-7000-8000-0000000000aa")
		Expect(err).NotTo(HaveOccurred())
		Expect(saved.Row.Event).To(Equal("Deposit"))
		Expect(saved.Deliveries).To(HaveLen(3))
	})

	It("should persist both rows", func() {
		Expect(store.Load()).To(HaveLen(2))
	})

	When("the same screen is seen again", func() {
		It("should not contact Telegram", func() {
			again, err := dog.Tick(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(again.State).To(Equal(watchdog.StateNoNew))
			Expect(server.ReceivedRequests()).To(HaveLen(4))
		})
	})
})
