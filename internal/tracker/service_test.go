package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/gharbills/bill-tracker/internal/bill"
	"github.com/gharbills/bill-tracker/internal/scanning"
)

func TestTracker(t *testing.T) {
	// Disable logging during tests
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))

	RegisterFailHandler(Fail)
	RunSpecs(t, "Tracker Suite")
}

// mustRaw builds a RawExtraction from a JSON literal
func mustRaw(jsonText string) *bill.RawExtraction {
	var raw bill.RawExtraction
	Expect(json.Unmarshal([]byte(jsonText), &raw)).To(Succeed())
	return &raw
}

// extractReply is one canned extractor response
type extractReply struct {
	raw *bill.RawExtraction
	err error
}

// mockExtractor replays canned responses in call order
type mockExtractor struct {
	replies []extractReply
	calls   int
	now     time.Time
}

func (m *mockExtractor) Extract(_ context.Context, _ []byte, _ string) (*bill.RawExtraction, error) {
	Expect(m.calls).To(BeNumerically("<", len(m.replies)), "unexpected extra extractor call")
	reply := m.replies[m.calls]
	m.calls++
	if reply.err != nil {
		return bill.EmptyExtraction(m.now), reply.err
	}
	return reply.raw, nil
}

func (m *mockExtractor) Close() error { return nil }

// mockStore is an in-memory Store implementation
type mockStore struct {
	records   map[string]*bill.Expenditure
	order     []string
	nextID    int
	version   uint64
	insertErr map[string]error // item name -> error
}

func newMockStore() *mockStore {
	return &mockStore{
		records:   make(map[string]*bill.Expenditure),
		insertErr: make(map[string]error),
	}
}

func (m *mockStore) Insert(_ context.Context, e *bill.Expenditure) (string, error) {
	if err := m.insertErr[e.Item]; err != nil {
		return "", err
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	record := *e
	record.ID = id
	m.records[id] = &record
	m.order = append(m.order, id)
	m.version++
	return id, nil
}

func (m *mockStore) Get(_ context.Context, id string) (*bill.Expenditure, error) {
	record, ok := m.records[id]
	if !ok {
		return nil, errors.New("expenditure not found")
	}
	return record, nil
}

func (m *mockStore) ListAll(_ context.Context) ([]*bill.Expenditure, error) {
	records := make([]*bill.Expenditure, 0, len(m.order))
	for _, id := range m.order {
		if record, ok := m.records[id]; ok {
			records = append(records, record)
		}
	}
	return records, nil
}

func (m *mockStore) ListByDateRange(ctx context.Context, start, end string) ([]*bill.Expenditure, error) {
	all, _ := m.ListAll(ctx)
	records := make([]*bill.Expenditure, 0)
	for _, record := range all {
		if record.Date >= start && record.Date <= end {
			records = append(records, record)
		}
	}
	return records, nil
}

func (m *mockStore) Update(_ context.Context, id string, e *bill.Expenditure) (bool, error) {
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	record := *e
	record.ID = id
	m.records[id] = &record
	m.version++
	return true, nil
}

func (m *mockStore) Delete(_ context.Context, id string) (bool, error) {
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	m.version++
	return true, nil
}

func (m *mockStore) SumByCategory(ctx context.Context, category bill.Category) (decimal.Decimal, error) {
	all, _ := m.ListAll(ctx)
	total := decimal.Zero
	for _, record := range all {
		if category == "" || record.Category == category {
			total = total.Add(record.Amount)
		}
	}
	return total, nil
}

func (m *mockStore) Version(_ context.Context) (uint64, error) { return m.version, nil }

func (m *mockStore) Close() error { return nil }

// mockClock provides a fixed time
type mockClock struct {
	now time.Time
}

func (m *mockClock) Now() time.Time { return m.now }

var _ = Describe("Service", func() {
	var (
		st        *mockStore
		extractor *mockExtractor
		clock     *mockClock
		service   *Service
		ctx       context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		st = newMockStore()
		clock = &mockClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
		extractor = &mockExtractor{now: clock.now}
		service = NewServiceWithClock(st, extractor, nil, clock)
	})

	Describe("ProcessBill", func() {
		var (
			img    BillImage
			person string
			result Result
		)

		BeforeEach(func() {
			img = BillImage{Name: "bill.jpg", Data: []byte("fake image data"), ContentType: "image/jpeg"}
			person = "Asha"
		})

		JustBeforeEach(func() {
			result = service.ProcessBill(ctx, img, person)
		})

		When("extraction succeeds with two valid items", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{raw: mustRaw(`{
					"items": [
						{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"},
						{"item": "Soap", "quantity": "2 pieces", "amount": 45, "category": "Personal Care"}
					],
					"total_amount": 105,
					"date": "2025-03-01"
				}`)}}
			})

			It("reports success with both items stored", func() {
				Expect(result.Success).To(BeTrue())
				Expect(result.ItemsStored).To(Equal(2))
			})

			It("carries the reported total for display", func() {
				Expect(result.Total.Equal(decimal.NewFromInt(105))).To(BeTrue())
			})

			It("persists one record per line item", func() {
				records, _ := st.ListAll(ctx)
				Expect(records).To(HaveLen(2))
				Expect(records[0].Item).To(Equal("Milk"))
				Expect(records[0].Date).To(Equal("2025-03-01"))
				Expect(records[0].Person).To(Equal("Asha"))
				Expect(records[1].Category).To(Equal(bill.CategoryPersonalCare))
			})
		})

		When("the model replies with prose instead of JSON", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{err: scanning.ErrMalformedResponse}}
			})

			It("reports failure with zero items stored", func() {
				Expect(result.Success).To(BeFalse())
				Expect(result.ItemsStored).To(BeZero())
			})

			It("tags the failure as a malformed response", func() {
				Expect(errors.Is(result.Err, scanning.ErrMalformedResponse)).To(BeTrue())
			})

			It("does not touch the store", func() {
				records, _ := st.ListAll(ctx)
				Expect(records).To(BeEmpty())
			})
		})

		When("the extraction service is unavailable", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{err: scanning.ErrServiceUnavailable}}
			})

			It("tags the failure as transient", func() {
				Expect(result.Success).To(BeFalse())
				Expect(errors.Is(result.Err, scanning.ErrServiceUnavailable)).To(BeTrue())
			})
		})

		When("the extraction fails the structural gate", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{raw: mustRaw(`{"items": [{"item": "Milk"}]}`)}}
			})

			It("reports failure as a malformed response", func() {
				Expect(result.Success).To(BeFalse())
				Expect(errors.Is(result.Err, scanning.ErrMalformedResponse)).To(BeTrue())
			})

			It("does not touch the store", func() {
				records, _ := st.ListAll(ctx)
				Expect(records).To(BeEmpty())
			})
		})

		When("the extraction has no items", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{raw: mustRaw(`{"items": [], "total_amount": 0, "date": "2025-03-01"}`)}}
			})

			It("reports failure with zero items stored", func() {
				Expect(result.Success).To(BeFalse())
				Expect(result.ItemsStored).To(BeZero())
			})
		})

		When("one of two items has a non-numeric amount", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{raw: mustRaw(`{
					"items": [
						{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"},
						{"item": "Sample", "quantity": "1 piece", "amount": "free", "category": "Groceries"}
					],
					"total_amount": 60,
					"date": "2025-03-01"
				}`)}}
			})

			It("stores exactly one item", func() {
				Expect(result.Success).To(BeTrue())
				Expect(result.ItemsStored).To(Equal(1))
				Expect(result.ItemsDropped).To(Equal(1))
			})
		})

		When("the extraction has no date", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{{raw: mustRaw(`{
					"items": [{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"}]
				}`)}}
			})

			It("dates the records today", func() {
				records, _ := st.ListAll(ctx)
				Expect(records).To(HaveLen(1))
				Expect(records[0].Date).To(Equal("2025-03-10"))
			})
		})

		When("one item's insert fails", func() {
			BeforeEach(func() {
				st.insertErr["Milk"] = errors.New("disk full")
				extractor.replies = []extractReply{{raw: mustRaw(`{
					"items": [
						{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"},
						{"item": "Soap", "quantity": "1 piece", "amount": 45, "category": "Personal Care"}
					],
					"total_amount": 105,
					"date": "2025-03-01"
				}`)}}
			})

			It("still stores the remaining items", func() {
				Expect(result.ItemsStored).To(Equal(1))
				records, _ := st.ListAll(ctx)
				Expect(records).To(HaveLen(1))
				Expect(records[0].Item).To(Equal("Soap"))
			})

			It("still reports success for the partial store", func() {
				Expect(result.Success).To(BeTrue())
			})
		})

		When("no person is given", func() {
			BeforeEach(func() {
				person = ""
				extractor.replies = []extractReply{{raw: mustRaw(`{
					"items": [{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"}],
					"date": "2025-03-01"
				}`)}}
			})

			It("attributes the records to Unknown", func() {
				records, _ := st.ListAll(ctx)
				Expect(records[0].Person).To(Equal("Unknown"))
			})
		})
	})

	Describe("ProcessBatch", func() {
		var (
			imgs   []BillImage
			result BatchResult
		)

		BeforeEach(func() {
			imgs = []BillImage{
				{Name: "bill1.jpg", Data: []byte("one"), ContentType: "image/jpeg"},
				{Name: "bill2.jpg", Data: []byte("two"), ContentType: "image/jpeg"},
				{Name: "bill3.jpg", Data: []byte("three"), ContentType: "image/jpeg"},
			}
		})

		JustBeforeEach(func() {
			result = service.ProcessBatch(ctx, imgs, "Asha")
		})

		When("the second image's extraction is unavailable", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{
					{raw: mustRaw(`{"items": [{"item": "Milk", "quantity": "1 L", "amount": 60, "category": "Groceries"}], "total_amount": 60, "date": "2025-03-01"}`)},
					{err: scanning.ErrServiceUnavailable},
					{raw: mustRaw(`{"items": [{"item": "Chips", "quantity": "1 piece", "amount": 20, "category": "Snacks"}], "total_amount": 20, "date": "2025-03-02"}`)},
				}
			})

			It("still stores all valid items from the other images", func() {
				Expect(result.ItemsStored).To(Equal(2))
				records, _ := st.ListAll(ctx)
				Expect(records).To(HaveLen(2))
				Expect(records[0].Item).To(Equal("Milk"))
				Expect(records[1].Item).To(Equal("Chips"))
			})

			It("counts the extracted images", func() {
				Expect(result.ImagesSubmitted).To(Equal(3))
				Expect(result.ImagesExtracted).To(Equal(2))
			})

			It("keeps each bill's own date", func() {
				records, _ := st.ListAll(ctx)
				Expect(records[0].Date).To(Equal("2025-03-01"))
				Expect(records[1].Date).To(Equal("2025-03-02"))
			})

			It("sums the reported totals of the extracted bills", func() {
				Expect(result.Total.Equal(decimal.NewFromInt(80))).To(BeTrue())
			})
		})

		When("every extraction fails", func() {
			BeforeEach(func() {
				extractor.replies = []extractReply{
					{err: scanning.ErrServiceUnavailable},
					{err: scanning.ErrMalformedResponse},
					{err: scanning.ErrServiceUnavailable},
				}
			})

			It("stores nothing", func() {
				Expect(result.ItemsStored).To(BeZero())
				Expect(result.ImagesExtracted).To(BeZero())
				records, _ := st.ListAll(ctx)
				Expect(records).To(BeEmpty())
			})
		})
	})

	Describe("Update", func() {
		var id string

		BeforeEach(func() {
			var err error
			id, err = st.Insert(ctx, &bill.Expenditure{
				Item: "Milk", Quantity: "1 L", Date: "2025-03-01",
				Amount: decimal.NewFromInt(60), Category: bill.CategoryGroceries, Person: "Asha",
			})
			Expect(err).NotTo(HaveOccurred())
		})

		It("coerces an unknown category to Other", func() {
			found, err := service.Update(ctx, id, &bill.Expenditure{
				Item: "Milk", Quantity: "1 L", Date: "2025-03-01",
				Amount: decimal.NewFromInt(60), Category: "Dairy", Person: "Asha",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			saved, _ := st.Get(ctx, id)
			Expect(saved.Category).To(Equal(bill.CategoryOther))
		})

		It("resolves an unparsable date to today", func() {
			found, err := service.Update(ctx, id, &bill.Expenditure{
				Item: "Milk", Quantity: "1 L", Date: "whenever",
				Amount: decimal.NewFromInt(60), Category: bill.CategoryGroceries, Person: "Asha",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			saved, _ := st.Get(ctx, id)
			Expect(saved.Date).To(Equal("2025-03-10"))
		})

		It("defaults a blank quantity and person", func() {
			found, err := service.Update(ctx, id, &bill.Expenditure{
				Item: "Milk", Date: "2025-03-01",
				Amount: decimal.NewFromInt(60), Category: bill.CategoryGroceries,
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeTrue())

			saved, _ := st.Get(ctx, id)
			Expect(saved.Quantity).To(Equal("1 piece"))
			Expect(saved.Person).To(Equal("Unknown"))
		})

		It("rejects a negative amount", func() {
			_, err := service.Update(ctx, id, &bill.Expenditure{
				Item: "Milk", Quantity: "1 L", Date: "2025-03-01",
				Amount: decimal.NewFromInt(-5), Category: bill.CategoryGroceries, Person: "Asha",
			})
			Expect(err).To(HaveOccurred())
		})

		It("returns false for an unknown id", func() {
			found, err := service.Update(ctx, "nope", &bill.Expenditure{
				Item: "Milk", Quantity: "1 L", Date: "2025-03-01",
				Amount: decimal.NewFromInt(60), Category: bill.CategoryGroceries, Person: "Asha",
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})

	Describe("Delete", func() {
		It("returns false for an unknown id", func() {
			found, err := service.Delete(ctx, "nope")
			Expect(err).NotTo(HaveOccurred())
			Expect(found).To(BeFalse())
		})
	})
})

var _ = Describe("sanitizeFilename", func() {
	It("strips special characters", func() {
		Expect(sanitizeFilename("IMG_2024!@#$.jpg")).To(Equal("IMG_2024.jpg"))
	})

	It("collapses whitespace", func() {
		Expect(sanitizeFilename("my    bill   photo.png")).To(Equal("my bill photo.png"))
	})

	It("truncates overlong names", func() {
		long := ""
		for i := 0; i < 20; i++ {
			long += "abcde"
		}
		Expect(len(sanitizeFilename(long + ".jpg"))).To(Equal(54))
	})

	It("falls back to a default name", func() {
		Expect(sanitizeFilename("!!!.jpg")).To(Equal("bill.jpg"))
	})
})
