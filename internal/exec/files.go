package exec

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/semquery/semquery/internal/storage"
)

// StoreFiles resolves table data files by listing the object store under
// the model's data prefix. Every parquet object below a table's prefix is
// part of that table.
type StoreFiles struct {
	Store storage.ObjectStore
}

func NewStoreFiles(store storage.ObjectStore) *StoreFiles {
	return &StoreFiles{Store: store}
}

func (s *StoreFiles) TableFiles(ctx context.Context, modelName string, tables []string) ([]TableFile, error) {
	var files []TableFile
	for _, table := range tables {
		prefix, err := storage.TableDataPrefix(modelName, table)
		if err != nil {
			return nil, fmt.Errorf("table data prefix for %q: %w", table, err)
		}
		objects, err := s.Store.List(ctx, prefix)
		if err != nil {
			return nil, fmt.Errorf("list data files for table %q: %w", table, err)
		}
		sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
		for _, object := range objects {
			if !strings.HasSuffix(object.Key, ".parquet") {
				continue
			}
			files = append(files, TableFile{
				TableName:     table,
				ObjectPath:    object.Key,
				FileSizeBytes: object.Size,
			})
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files for tables %v", tables)
	}
	return files, nil
}
