package table

import (
	"crypto/md5"
	"encoding/hex"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var _ = Describe("IdentityOf", func() {
	It("should be deterministic", func() {
		Expect(IdentityOf("3:15 PM", amount("15250"))).To(Equal(IdentityOf("3:15 PM", amount("15250.00"))))
	})

	It("should be a 32 character hex digest", func() {
		Expect(IdentityOf("3:15 PM", amount("1"))).To(MatchRegexp(`^[0-9a-f]{32}$`))
	})

	It("should match the digest of time|amount with two decimals", func() {
		sum := md5.Sum([]byte("3:15 PM|15250.00"))
		Expect(IdentityOf("3:15 PM", amount("15250"))).To(Equal(hex.EncodeToString(sum[:])))
	})

	It("should stay compatible with existing ledgers", func() {
		Expect(IdentityOf("3:15 PM", amount("15250"))).To(Equal("941d3b33e1550fdce125731a99f12237"))
	})

	It("should ignore surrounding whitespace in the time", func() {
		Expect(IdentityOf(" 3:15 PM ", amount("1.50"))).To(Equal(IdentityOf("3:15 PM", amount("1.5"))))
	})

	It("should ignore the event text", func() {
		a := NewRow("Deposit", "3:15 PM", amount("15250"))
		b := NewRow("Dep0sit", "3:15 PM", amount("15250"))
		Expect(a.ID).To(Equal(b.ID))
	})

	It("should not collide across the test corpus", func() {
		times := []string{"", "1:00 AM", "1:00 PM", "12:59 PM", "3:15 PM", "3:15PM", "11:11 am"}
		amounts := []string{"0.00", "0.01", "1.00", "10.00", "15000.00", "15000.01", "15250.00", "1525.00"}

		seen := make(map[string]string)
		for _, t := range times {
			for _, a := range amounts {
				id := IdentityOf(t, amount(a))
				key := t + "|" + a
				Expect(seen).NotTo(HaveKey(id), "collision between %q and %q", seen[id], key)
				seen[id] = key
			}
		}
		Expect(seen).To(HaveLen(len(times) * len(amounts)))
	})
})

var _ = Describe("SelectAlertable", func() {
	var (
		rows      []Row
		threshold decimal.Decimal
		selected  Row
		ok        bool
	)

	BeforeEach(func() {
		threshold = amount("15000")
	})

	JustBeforeEach(func() {
		selected, ok = SelectAlertable(rows, threshold)
	})

	When("the amount equals the threshold", func() {
		BeforeEach(func() {
			rows = []Row{NewRow("Deposit", "3:15 PM", amount("15000.00"))}
		})

		It("should not qualify", func() {
			Expect(ok).To(BeFalse())
		})
	})

	When("the amount is one cent above the threshold", func() {
		BeforeEach(func() {
			rows = []Row{NewRow("Deposit", "3:15 PM", amount("15000.01"))}
		})

		It("should qualify", func() {
			Expect(ok).To(BeTrue())
			Expect(selected.Amount.StringFixed(2)).To(Equal("15000.01"))
		})
	})

	When("the deposit and fee scenario is evaluated", func() {
		BeforeEach(func() {
			rows = Extract("Deposit $15,250.00 3:15 PM\nFee $2.00")
		})

		It("should select the deposit", func() {
			Expect(ok).To(BeTrue())
			Expect(selected.Event).To(Equal("Deposit"))
			Expect(selected.Time).To(Equal("3:15 PM"))
			Expect(selected.Amount.StringFixed(2)).To(Equal("15250.00"))
		})
	})

	When("a high row lacks event or time", func() {
		BeforeEach(func() {
			rows = []Row{
				NewRow("", "3:15 PM", amount("90000")),
				NewRow("Deposit", "", amount("80000")),
			}
		})

		It("should not qualify", func() {
			Expect(ok).To(BeFalse())
		})
	})

	When("several rows qualify", func() {
		BeforeEach(func() {
			rows = []Row{
				NewRow("First", "1:00 PM", amount("20000")),
				NewRow("Second", "1:01 PM", amount("30000")),
				NewRow("Third", "1:02 PM", amount("30000")),
				NewRow("Fourth", "1:03 PM", amount("25000")),
			}
		})

		It("should select the largest amount", func() {
			Expect(selected.Amount.StringFixed(2)).To(Equal("30000.00"))
		})

		It("should break ties by scan order", func() {
			Expect(selected.Event).To(Equal("Second"))
		})
	})

	When("there are no rows", func() {
		BeforeEach(func() {
			rows = nil
		})

		It("should not qualify", func() {
			Expect(ok).To(BeFalse())
		})
	})
})
