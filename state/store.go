// Package state implements the runtime's document store on go-memdb, plus
// the trigger layer that fires before/after hooks around every write.
package state

import (
	"fmt"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-memdb"
	"github.com/mitchellh/copystructure"

	"github.com/strata-cms/strata/structs"
)

// Store is the document store. All access is through memdb transactions;
// reads never block writes.
type Store struct {
	logger hclog.Logger
	db     *memdb.MemDB
}

// NewStore returns an initialized, empty Store.
func NewStore(logger hclog.Logger) (*Store, error) {
	db, err := memdb.NewMemDB(storeSchema())
	if err != nil {
		return nil, fmt.Errorf("state store setup failed: %v", err)
	}
	return &Store{
		logger: logger.Named("state"),
		db:     db,
	}, nil
}

// --- plugins ---

// PluginByID returns the persisted plugin row, or nil when absent.
func (s *Store) PluginByID(id string) (*structs.Plugin, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TablePlugins, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("plugin lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	return raw.(*structs.Plugin).Copy(), nil
}

// Plugins returns every persisted plugin row.
func (s *Store) Plugins() ([]*structs.Plugin, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TablePlugins, indexID)
	if err != nil {
		return nil, fmt.Errorf("plugin lookup failed: %v", err)
	}

	var out []*structs.Plugin
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, raw.(*structs.Plugin).Copy())
	}
	return out, nil
}

// UpsertPlugin writes a plugin row.
func (s *Store) UpsertPlugin(p *structs.Plugin) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(TablePlugins, p.Copy()); err != nil {
		return fmt.Errorf("plugin insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// DeletePlugin removes a plugin row. Deleting an absent row is an error.
func (s *Store) DeletePlugin(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TablePlugins, indexID, id)
	if err != nil {
		return fmt.Errorf("plugin lookup failed: %v", err)
	}
	if raw == nil {
		return fmt.Errorf("plugin %q not found", id)
	}
	if err := txn.Delete(TablePlugins, raw); err != nil {
		return fmt.Errorf("plugin delete failed: %v", err)
	}
	txn.Commit()
	return nil
}

// --- syndicate clients ---

// SyndicateClientByID returns a client row by object id, or nil.
func (s *Store) SyndicateClientByID(objectID string) (*structs.SyndicateClient, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableSyndicateClients, indexID, objectID)
	if err != nil {
		return nil, fmt.Errorf("syndicate client lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	c := *raw.(*structs.SyndicateClient)
	return &c, nil
}

// SyndicateClientByName returns a client row by (username, client name), or
// nil.
func (s *Store) SyndicateClientByName(username, clientName string) (*structs.SyndicateClient, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableSyndicateClients, indexName, username, clientName)
	if err != nil {
		return nil, fmt.Errorf("syndicate client lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	c := *raw.(*structs.SyndicateClient)
	return &c, nil
}

// UpsertSyndicateClient writes a client row.
func (s *Store) UpsertSyndicateClient(c *structs.SyndicateClient) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	cp := *c
	if err := txn.Insert(TableSyndicateClients, &cp); err != nil {
		return fmt.Errorf("syndicate client insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// DeleteSyndicateClient removes a client row.
func (s *Store) DeleteSyndicateClient(objectID string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableSyndicateClients, indexID, objectID)
	if err != nil {
		return fmt.Errorf("syndicate client lookup failed: %v", err)
	}
	if raw == nil {
		return fmt.Errorf("syndicate client %q not found", objectID)
	}
	if err := txn.Delete(TableSyndicateClients, raw); err != nil {
		return fmt.Errorf("syndicate client delete failed: %v", err)
	}
	txn.Commit()
	return nil
}

// --- settings ---

// SettingByKey returns a setting row, or nil when unset.
func (s *Store) SettingByKey(key string) (*structs.Setting, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableSettings, indexID, key)
	if err != nil {
		return nil, fmt.Errorf("setting lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	st := *raw.(*structs.Setting)
	return &st, nil
}

// UpsertSetting writes a setting row.
func (s *Store) UpsertSetting(st *structs.Setting) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	cp := *st
	if err := txn.Insert(TableSettings, &cp); err != nil {
		return fmt.Errorf("setting insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// --- content types ---

// ContentTypeByName returns a content type, or nil.
func (s *Store) ContentTypeByName(machineName string) (*structs.ContentType, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableContentTypes, indexID, machineName)
	if err != nil {
		return nil, fmt.Errorf("content type lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	ct := *raw.(*structs.ContentType)
	return &ct, nil
}

// ContentTypes returns every content type.
func (s *Store) ContentTypes() ([]*structs.ContentType, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableContentTypes, indexID)
	if err != nil {
		return nil, fmt.Errorf("content type lookup failed: %v", err)
	}

	var out []*structs.ContentType
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		ct := *raw.(*structs.ContentType)
		out = append(out, &ct)
	}
	return out, nil
}

// UpsertContentType writes a content type.
func (s *Store) UpsertContentType(ct *structs.ContentType) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	cp := *ct
	if err := txn.Insert(TableContentTypes, &cp); err != nil {
		return fmt.Errorf("content type insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// --- content ---

// ContentByID returns a content document, or nil.
func (s *Store) ContentByID(id string) (*structs.Content, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableContent, indexID, id)
	if err != nil {
		return nil, fmt.Errorf("content lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	return copyContent(raw.(*structs.Content)), nil
}

// ContentByType returns every content document of a type.
func (s *Store) ContentByType(machineName string) ([]*structs.Content, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableContent, indexType, machineName)
	if err != nil {
		return nil, fmt.Errorf("content lookup failed: %v", err)
	}

	var out []*structs.Content
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		out = append(out, copyContent(raw.(*structs.Content)))
	}
	return out, nil
}

// UpsertContent writes a content document.
func (s *Store) UpsertContent(c *structs.Content) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	if err := txn.Insert(TableContent, copyContent(c)); err != nil {
		return fmt.Errorf("content insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// copyContent deep-copies a content document. The open Fields map can hold
// nested rich-text trees, so a shallow copy would share them with callers.
func copyContent(c *structs.Content) *structs.Content {
	cp := *c
	if c.Fields != nil {
		copied, err := copystructure.Copy(c.Fields)
		if err != nil {
			// Fields hold only JSON-shaped values; a copy failure means a
			// caller stored something exotic. Fall back to sharing.
			cp.Fields = c.Fields
			return &cp
		}
		cp.Fields = copied.(map[string]interface{})
	}
	return &cp
}

// DeleteContent removes a content document.
func (s *Store) DeleteContent(id string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableContent, indexID, id)
	if err != nil {
		return fmt.Errorf("content lookup failed: %v", err)
	}
	if raw == nil {
		return fmt.Errorf("content %q not found", id)
	}
	if err := txn.Delete(TableContent, raw); err != nil {
		return fmt.Errorf("content delete failed: %v", err)
	}
	txn.Commit()
	return nil
}

// --- blobs ---

// BlobByPath returns a stored blob, or nil.
func (s *Store) BlobByPath(path string) (*structs.Blob, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(TableBlobs, indexID, path)
	if err != nil {
		return nil, fmt.Errorf("blob lookup failed: %v", err)
	}
	if raw == nil {
		return nil, nil
	}
	b := *raw.(*structs.Blob)
	return &b, nil
}

// Blobs returns every stored blob ordered by path.
func (s *Store) Blobs() ([]*structs.Blob, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	iter, err := txn.Get(TableBlobs, indexID)
	if err != nil {
		return nil, fmt.Errorf("blob iteration failed: %v", err)
	}

	var out []*structs.Blob
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		b := *raw.(*structs.Blob)
		out = append(out, &b)
	}
	return out, nil
}

// UpsertBlob writes a blob.
func (s *Store) UpsertBlob(b *structs.Blob) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	cp := *b
	if err := txn.Insert(TableBlobs, &cp); err != nil {
		return fmt.Errorf("blob insert failed: %v", err)
	}
	txn.Commit()
	return nil
}

// DeleteBlob removes a blob. Removing an absent blob is a no-op.
func (s *Store) DeleteBlob(path string) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	raw, err := txn.First(TableBlobs, indexID, path)
	if err != nil {
		return fmt.Errorf("blob lookup failed: %v", err)
	}
	if raw == nil {
		return nil
	}
	if err := txn.Delete(TableBlobs, raw); err != nil {
		return fmt.Errorf("blob delete failed: %v", err)
	}
	txn.Commit()
	return nil
}
