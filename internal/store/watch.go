package store

import (
	"context"
	"errors"
	"time"
)

const snapshotLoadTimeout = 5 * time.Second

// WatchDocument delivers the current document, then a full snapshot on every change.
func (s *SQLiteStore) WatchDocument(ctx context.Context, path string) (*Subscription[DocumentSnapshot], error) {
	collection, id, err := ParsePath(path)
	if err != nil {
		return nil, err
	}
	key := collection + "/" + id

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	snap, err := s.loadDocumentSnapshot(ctx, collection, id)
	if err != nil {
		return nil, err
	}

	s.watchID++
	watchID := s.watchID
	sub := newSubscription[DocumentSnapshot](func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if subs, ok := s.docWatchers[key]; ok {
			delete(subs, watchID)
			if len(subs) == 0 {
				delete(s.docWatchers, key)
			}
		}
	})
	if _, ok := s.docWatchers[key]; !ok {
		s.docWatchers[key] = make(map[int64]*Subscription[DocumentSnapshot])
	}
	s.docWatchers[key][watchID] = sub
	sub.push(snap)
	sub.closeOnDone(ctx)

	return sub, nil
}

// WatchCollection delivers the full collection, then again on every change.
func (s *SQLiteStore) WatchCollection(ctx context.Context, collection string) (*Subscription[CollectionSnapshot], error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	snap, err := s.loadCollectionSnapshot(ctx, collection)
	if err != nil {
		return nil, err
	}

	s.watchID++
	watchID := s.watchID
	sub := newSubscription[CollectionSnapshot](func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		if subs, ok := s.colWatchers[collection]; ok {
			delete(subs, watchID)
			if len(subs) == 0 {
				delete(s.colWatchers, collection)
			}
		}
	})
	if _, ok := s.colWatchers[collection]; !ok {
		s.colWatchers[collection] = make(map[int64]*Subscription[CollectionSnapshot])
	}
	s.colWatchers[collection][watchID] = sub
	sub.push(snap)
	sub.closeOnDone(ctx)

	return sub, nil
}

// notify publishes fresh snapshots after a write. Loads happen under watchMu
// so subscribers never observe snapshots out of order.
func (s *SQLiteStore) notify(collection, id string) {
	key := collection + "/" + id

	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	docSubs := s.docWatchers[key]
	colSubs := s.colWatchers[collection]
	if len(docSubs) == 0 && len(colSubs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotLoadTimeout)
	defer cancel()

	if len(docSubs) > 0 {
		snap, err := s.loadDocumentSnapshot(ctx, collection, id)
		if err != nil {
			s.logger.Warn("failed to load document snapshot", "path", key, "error", err)
		} else {
			for _, sub := range docSubs {
				sub.push(snap)
			}
		}
	}

	if len(colSubs) > 0 {
		snap, err := s.loadCollectionSnapshot(ctx, collection)
		if err != nil {
			s.logger.Warn("failed to load collection snapshot", "collection", collection, "error", err)
		} else {
			for _, sub := range colSubs {
				sub.push(snap)
			}
		}
	}
}

func (s *SQLiteStore) loadDocumentSnapshot(ctx context.Context, collection, id string) (DocumentSnapshot, error) {
	path := collection + "/" + id
	doc, err := s.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return DocumentSnapshot{Path: path}, nil
	}
	if err != nil {
		return DocumentSnapshot{}, err
	}
	return DocumentSnapshot{Path: path, Exists: true, Document: *doc}, nil
}

func (s *SQLiteStore) loadCollectionSnapshot(ctx context.Context, collection string) (CollectionSnapshot, error) {
	docs, err := s.List(ctx, collection)
	if err != nil {
		return CollectionSnapshot{}, err
	}
	return CollectionSnapshot{Collection: collection, Documents: docs}, nil
}
