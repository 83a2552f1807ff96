package purchase

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/purchase-tracker/internal/scanning"
)

var _ = Describe("BoltDB", func() {
	var (
		tmpDir string
		dbPath string
		db     *BoltDB
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		dbPath = filepath.Join(tmpDir, "test.db")
		var err error
		db, err = NewBoltDB(dbPath)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		if db != nil {
			db.Close()
		}
	})

	Describe("SavePurchase", func() {
		var (
			p   *Purchase
			err error
		)

		BeforeEach(func() {
			p = &Purchase{
				ID:       "test-id",
				Supplier: strPtr("Ferretería Imperial"),
				RUT:      strPtr("96.565.580-8"),
				Date:     strPtr("2024-01-15"),
				Total:    numPtr(25990),
				Items: []scanning.LineItem{
					{Name: "Tornillos", Qty: numPtr(100), UnitPrice: nil, LineTotal: numPtr(2990)},
				},
				Document:    "test-id_boleta.jpg",
				ContentType: "image/jpeg",
				CreatedAt:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
				UpdatedAt:   time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC),
			}
		})

		JustBeforeEach(func() {
			err = db.SavePurchase(p)
		})

		When("saving succeeds", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round-trip every field", func() {
				saved, getErr := db.GetPurchase("test-id")
				Expect(getErr).NotTo(HaveOccurred())
				Expect(saved).To(Equal(p))
			})
		})

		When("the purchase has no id", func() {
			BeforeEach(func() {
				p.ID = ""
			})

			It("returns an error", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		When("the purchase already exists", func() {
			It("should replace it", func() {
				p.Supplier = strPtr("Otro")
				Expect(db.SavePurchase(p)).To(Succeed())
				all, listErr := db.ListPurchases()
				Expect(listErr).NotTo(HaveOccurred())
				Expect(all).To(HaveLen(1))
				Expect(all[0].Supplier).To(HaveValue(Equal("Otro")))
			})
		})
	})

	Describe("GetPurchase", func() {
		It("returns ErrNotFound for unknown ids", func() {
			_, err := db.GetPurchase("nonexistent")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})
	})

	Describe("ListPurchases", func() {
		It("returns an empty, non-nil slice when empty", func() {
			all, err := db.ListPurchases()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).NotTo(BeNil())
			Expect(all).To(BeEmpty())
		})

		It("returns every purchase", func() {
			Expect(db.SavePurchase(&Purchase{ID: "a"})).To(Succeed())
			Expect(db.SavePurchase(&Purchase{ID: "b"})).To(Succeed())
			all, err := db.ListPurchases()
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))
		})
	})

	Describe("DeletePurchase", func() {
		BeforeEach(func() {
			Expect(db.SavePurchase(&Purchase{ID: "a"})).To(Succeed())
		})

		It("removes the purchase", func() {
			Expect(db.DeletePurchase("a")).To(Succeed())
			_, err := db.GetPurchase("a")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("returns ErrNotFound for unknown ids", func() {
			Expect(errors.Is(db.DeletePurchase("b"), ErrNotFound)).To(BeTrue())
		})
	})

	Describe("NewBoltDB", func() {
		It("reopens an existing database", func() {
			Expect(db.SavePurchase(&Purchase{ID: "kept"})).To(Succeed())
			Expect(db.Close()).To(Succeed())

			var err error
			db, err = NewBoltDB(dbPath)
			Expect(err).NotTo(HaveOccurred())
			_, err = db.GetPurchase("kept")
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
