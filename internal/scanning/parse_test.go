package scanning

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gharbills/bill-tracker/internal/bill"
)

func TestScanning(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Scanning Suite")
}

const validExtraction = `{
	"items": [
		{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"}
	],
	"total_amount": 60,
	"date": "2025-01-01",
	"store_name": "Corner Shop"
}`

var _ = Describe("stripCodeFence", func() {
	It("removes a json-tagged fence", func() {
		Expect(stripCodeFence("```json\n{\"a\": 1}\n```")).To(Equal(`{"a": 1}`))
	})

	It("removes an untagged fence", func() {
		Expect(stripCodeFence("```\n{\"a\": 1}\n```")).To(Equal(`{"a": 1}`))
	})

	It("leaves unwrapped text alone", func() {
		Expect(stripCodeFence(`{"a": 1}`)).To(Equal(`{"a": 1}`))
	})

	It("is idempotent", func() {
		once := stripCodeFence("```json\n{\"a\": 1}\n```")
		Expect(stripCodeFence(once)).To(Equal(once))
	})
})

var _ = Describe("decodeExtraction", func() {
	var (
		responseText string
		raw          *bill.RawExtraction
		err          error
	)

	JustBeforeEach(func() {
		raw, err = decodeExtraction(responseText)
	})

	When("the response is bare JSON", func() {
		BeforeEach(func() {
			responseText = validExtraction
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("decodes the line items", func() {
			Expect(raw.Items).To(HaveLen(1))
			Expect(*raw.Items[0].Item).To(Equal("Milk"))
			Expect(*raw.Items[0].Quantity).To(Equal("1 L"))
			Expect(*raw.Items[0].Category).To(Equal("Groceries"))
		})

		It("decodes the metadata", func() {
			Expect(raw.Date).To(Equal("2025-01-01"))
			Expect(raw.StoreName).To(Equal("Corner Shop"))
		})
	})

	When("the response is wrapped in a fenced code block", func() {
		BeforeEach(func() {
			responseText = "```json\n" + validExtraction + "\n```"
		})

		It("decodes the same structure as the unwrapped text", func() {
			Expect(err).NotTo(HaveOccurred())
			unwrapped, unwrappedErr := decodeExtraction(validExtraction)
			Expect(unwrappedErr).NotTo(HaveOccurred())
			Expect(raw).To(Equal(unwrapped))
		})
	})

	When("the model adds commentary around the JSON", func() {
		BeforeEach(func() {
			responseText = "Here is the extracted data:\n" + validExtraction + "\nLet me know if you need more."
		})

		It("decodes the outermost JSON object", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(raw.Items).To(HaveLen(1))
		})
	})

	When("the response contains no JSON at all", func() {
		BeforeEach(func() {
			responseText = "Sorry, I cannot read this image."
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
			Expect(raw).To(BeNil())
		})
	})

	When("the JSON is truncated", func() {
		BeforeEach(func() {
			responseText = `{"items": [{"item": "Milk"`
		})

		It("returns the error", func() {
			Expect(err).To(HaveOccurred())
		})
	})

	When("a line item omits keys", func() {
		BeforeEach(func() {
			responseText = `{"items": [{"item": "Milk"}]}`
		})

		It("decodes but fails the structural gate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(raw.StructurallyValid()).To(BeFalse())
		})
	})
})
