package notify

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/screen-watchdog/internal/failure"
)

const testToken = "123456:ABC-secret"

var _ = Describe("Telegram", func() {
	var (
		server *ghttp.Server
		client *Telegram
	)

	BeforeEach(func() {
		server = ghttp.NewServer()
		client = NewTelegram(testToken, server.URL()+"/")
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Recipients", func() {
		var (
			recipients []Recipient
			err        error
		)

		JustBeforeEach(func() {
			recipients, err = client.Recipients(context.Background())
		})

		When("there are updates", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodGet, "/bot"+testToken+"/getUpdates"),
					ghttp.RespondWith(http.StatusOK, `{
						"ok": true,
						"result": [
							{"update_id": 1, "message": {"message_id": 5, "chat": {"id": 42, "type": "private"}, "text": "/start"}},
							{"update_id": 2, "edited_message": {"chat": {"id": 77}}},
							{"update_id": 3, "message": {"chat": {"id": 42}}},
							{"update_id": 4, "channel_post": {"chat": {"id": -1001234567890}}},
							{"update_id": 5, "my_chat_member": {"chat": {"id": 999}}}
						]
					}`),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return each chat once in first-seen order", func() {
				Expect(recipients).To(Equal([]Recipient{42, 77, -1001234567890}))
			})
		})

		When("nobody has messaged the bot", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"ok": true, "result": []}`))
			})

			It("should return an empty list", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(recipients).To(BeEmpty())
			})
		})

		When("the token is rejected", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusUnauthorized, `{"ok": false, "error_code": 401, "description": "Unauthorized"}`))
			})

			It("returns a permanent error", func() {
				Expect(failure.IsPermanent(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Unauthorized"))
				Expect(failure.Guidance(err)).To(ContainSubstring("TELEGRAM_BOT_TOKEN"))
			})
		})

		When("a webhook is set", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusConflict, `{"ok": false, "error_code": 409, "description": "Conflict: can't use getUpdates method while webhook is active"}`))
			})

			It("returns a permanent error", func() {
				Expect(failure.IsPermanent(err)).To(BeTrue())
				Expect(failure.Guidance(err)).To(ContainSubstring("deleteWebhook"))
			})
		})

		When("telegram is having trouble", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusBadGateway, "Bad Gateway"))
			})

			It("returns a transient error", func() {
				Expect(failure.IsTransient(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("Bad Gateway"))
			})
		})

		When("the server cannot be reached", func() {
			BeforeEach(func() {
				server.Close()
			})

			It("returns a transient error without the token", func() {
				Expect(failure.IsTransient(err)).To(BeTrue())
				Expect(err.Error()).NotTo(ContainSubstring(testToken))
			})
		})
	})

	Describe("SendPhoto", func() {
		var (
			imagePath string
			err       error
		)

		BeforeEach(func() {
			imagePath = filepath.Join(GinkgoT().TempDir(), "20250601_120000.png")
			Expect(os.WriteFile(imagePath, []byte("png-bytes"), 0644)).To(Succeed())
		})

		JustBeforeEach(func() {
			err = client.SendPhoto(context.Background(), Recipient(42), imagePath, "Event: Deposit")
		})

		When("telegram accepts the photo", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/bot"+testToken+"/sendPhoto"),
					func(w http.ResponseWriter, r *http.Request) {
						Expect(r.ParseMultipartForm(1 << 20)).To(Succeed())
						Expect(r.FormValue("chat_id")).To(Equal("42"))
						Expect(r.FormValue("caption")).To(Equal("Event: Deposit"))

						file, header, fileErr := r.FormFile("photo")
						Expect(fileErr).NotTo(HaveOccurred())
						defer file.Close()
						Expect(header.Filename).To(Equal("20250601_120000.png"))
						data, readErr := io.ReadAll(file)
						Expect(readErr).NotTo(HaveOccurred())
						Expect(string(data)).To(Equal("png-bytes"))
					},
					ghttp.RespondWith(http.StatusOK, `{"ok": true, "result": {"message_id": 9}}`),
				))
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})
		})

		When("the user blocked the bot", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusForbidden, `{"ok": false, "error_code": 403, "description": "Forbidden: bot was blocked by the user"}`))
			})

			It("returns a permanent error naming the recipient", func() {
				Expect(failure.IsPermanent(err)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("sending photo to 42"))
				Expect(err.Error()).To(ContainSubstring("blocked by the user"))
			})
		})

		When("telegram rate limits", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusTooManyRequests, `{"ok": false, "error_code": 429, "description": "Too Many Requests: retry after 5"}`))
			})

			It("returns a transient error", func() {
				Expect(failure.IsTransient(err)).To(BeTrue())
			})
		})

		When("the image is missing", func() {
			BeforeEach(func() {
				Expect(os.Remove(imagePath)).To(Succeed())
			})

			It("returns an error without calling telegram", func() {
				Expect(err).To(MatchError(ContainSubstring("reading photo")))
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})
})
