package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wayplan/wayplan/pkg/itinerary"
)

var (
	bucketItineraries = []byte("itineraries")
	bucketRevisions   = []byte("revisions")
	bucketBookings    = []byte("bookings")
)

// BoltStore is the embedded single-file backend. Documents live under the
// itineraries bucket keyed by id; revisions live under the revisions bucket
// keyed by "<id>/<zero-padded version>" so a prefix cursor walks them in
// version order.
type BoltStore struct {
	db *bolt.DB
}

// NewBolt opens (or creates) the database file and ensures the buckets
// exist.
func NewBolt(path string) (*BoltStore, error) {
	if path == "" {
		path = "wayplan.db"
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketItineraries, bucketRevisions, bucketBookings} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func revisionKey(id string, version int) []byte {
	return []byte(fmt.Sprintf("%s/%010d", id, version))
}

func revisionPrefix(id string) []byte {
	return []byte(id + "/")
}

func (s *BoltStore) Get(_ context.Context, id string) (*itinerary.Itinerary, error) {
	var it *itinerary.Itinerary
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketItineraries).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		it = &itinerary.Itinerary{}
		return json.Unmarshal(data, it)
	})
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (s *BoltStore) Save(_ context.Context, it *itinerary.Itinerary) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItineraries).Put([]byte(it.ID), data)
	})
}

func (s *BoltStore) SaveWithRevision(_ context.Context, it *itinerary.Itinerary, rev *itinerary.Revision) error {
	docData, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("failed to marshal itinerary: %w", err)
	}
	revData, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("failed to marshal revision: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketItineraries).Put([]byte(it.ID), docData); err != nil {
			return err
		}
		return tx.Bucket(bucketRevisions).Put(revisionKey(rev.ItineraryID, rev.Version), revData)
	})
}

func (s *BoltStore) AppendRevision(_ context.Context, rev *itinerary.Revision) error {
	data, err := json.Marshal(rev)
	if err != nil {
		return fmt.Errorf("failed to marshal revision: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRevisions).Put(revisionKey(rev.ItineraryID, rev.Version), data)
	})
}

func (s *BoltStore) ListRevisions(_ context.Context, id string) ([]*itinerary.Revision, error) {
	var out []*itinerary.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRevisions).Cursor()
		prefix := revisionPrefix(id)
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			rev := &itinerary.Revision{}
			if err := json.Unmarshal(v, rev); err != nil {
				return fmt.Errorf("failed to unmarshal revision %s: %w", k, err)
			}
			out = append(out, rev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BoltStore) GetRevision(_ context.Context, id string, version int) (*itinerary.Revision, error) {
	var rev *itinerary.Revision
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketRevisions).Get(revisionKey(id, version))
		if data == nil {
			return ErrRevisionNotFound
		}
		rev = &itinerary.Revision{}
		return json.Unmarshal(data, rev)
	})
	if err != nil {
		return nil, err
	}
	return rev, nil
}

func (s *BoltStore) List(_ context.Context, ownerID string) ([]itinerary.Summary, error) {
	out := []itinerary.Summary{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketItineraries).ForEach(func(k, v []byte) error {
			var it itinerary.Itinerary
			if err := json.Unmarshal(v, &it); err != nil {
				return fmt.Errorf("failed to unmarshal %s: %w", k, err)
			}
			if ownerID != "" && it.OwnerID != ownerID {
				return nil
			}
			out = append(out, it.Summarize())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out, nil
}

func (s *BoltStore) Delete(_ context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketItineraries)
		if docs.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := docs.Delete([]byte(id)); err != nil {
			return err
		}
		c := tx.Bucket(bucketRevisions).Cursor()
		prefix := revisionPrefix(id)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) PruneRevisions(_ context.Context, id string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	pruned := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRevisions)
		prefix := revisionPrefix(id)
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		if len(keys) <= keep {
			return nil
		}
		for _, k := range keys[:len(keys)-keep] {
			if err := b.Delete(k); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}

func (s *BoltStore) SaveBooking(_ context.Context, rec *BookingRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal booking: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookings).Put([]byte(rec.Ref), data)
	})
}

func (s *BoltStore) GetBooking(_ context.Context, ref string) (*BookingRecord, error) {
	var rec *BookingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketBookings).Get([]byte(ref))
		if data == nil {
			return ErrBookingNotFound
		}
		rec = &BookingRecord{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *BoltStore) ListBookings(_ context.Context, itineraryID string) ([]*BookingRecord, error) {
	var out []*BookingRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBookings).ForEach(func(k, v []byte) error {
			rec := &BookingRecord{}
			if err := json.Unmarshal(v, rec); err != nil {
				return fmt.Errorf("failed to unmarshal booking %s: %w", k, err)
			}
			if rec.ItineraryID == itineraryID {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortBookings(out)
	return out, nil
}

func (s *BoltStore) Ping(context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
