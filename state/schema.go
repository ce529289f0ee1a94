package state

import (
	"github.com/hashicorp/go-memdb"
)

const (
	TablePlugins          = "plugins"
	TableSyndicateClients = "syndicate_clients"
	TableSettings         = "settings"
	TableContentTypes     = "content_types"
	TableContent          = "content"
	TableBlobs            = "blobs"

	indexID   = "id"
	indexType = "type"
	indexName = "name"
)

// storeSchema returns the memdb schema for the document store.
func storeSchema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			TablePlugins:          pluginsTableSchema(),
			TableSyndicateClients: syndicateClientsTableSchema(),
			TableSettings:         settingsTableSchema(),
			TableContentTypes:     contentTypesTableSchema(),
			TableContent:          contentTableSchema(),
			TableBlobs:            blobsTableSchema(),
		},
	}
}

func pluginsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TablePlugins,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
		},
	}
}

func syndicateClientsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableSyndicateClients,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ObjectID"},
			},
			indexName: {
				Name:   indexName,
				Unique: true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Username"},
						&memdb.StringFieldIndex{Field: "ClientName"},
					},
				},
			},
		},
	}
}

func settingsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableSettings,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "Key"},
			},
		},
	}
}

func contentTypesTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableContentTypes,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "MachineName"},
			},
		},
	}
}

func contentTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableContent,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexType: {
				Name:    indexType,
				Unique:  false,
				Indexer: &memdb.StringFieldIndex{Field: "Type"},
			},
		},
	}
}

func blobsTableSchema() *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: TableBlobs,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "Path"},
			},
		},
	}
}
