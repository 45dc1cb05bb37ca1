// Copyright 2023 The FuseDB Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package kvapi

import (
	"strconv"
	"strings"
)

// Registered key-family prefixes. A prefix occupies its own unescaped
// segment, so two families can never encode to indistinguishable strings.
const (
	PrefixDatabase     = "__fd_db"
	PrefixDatabaseByID = "__fd_db_by_id"
	PrefixTable        = "__fd_table"
	PrefixTableByID    = "__fd_table_by_id"
	PrefixTableCount   = "__fd_table_count"
)

// StringKey is the degenerate identity mapping for untyped string keys:
// no prefix, no escaping, no failure mode.
type StringKey string

func (k StringKey) Prefix() string { return "" }

func (k StringKey) Encode() string { return string(k) }

func (k *StringKey) Decode(s string) error {
	*k = StringKey(s)
	return nil
}

// DatabaseKey maps a database name to its database record.
type DatabaseKey struct {
	Database string
}

func (k *DatabaseKey) Prefix() string { return PrefixDatabase }

func (k *DatabaseKey) Encode() string {
	return strings.Join([]string{PrefixDatabase, Escape(k.Database)}, KeySeparator)
}

func (k *DatabaseKey) Decode(s string) error {
	segs, err := splitKey(s)
	if err != nil {
		return err
	}
	if err := segs.literal(0, PrefixDatabase); err != nil {
		return err
	}
	db, err := segs.str(1)
	if err != nil {
		return err
	}
	if err := segs.absent(2); err != nil {
		return err
	}
	k.Database = db
	return nil
}

// DatabaseIDKey maps a database id to its database record.
type DatabaseIDKey struct {
	DatabaseID uint64
}

func (k *DatabaseIDKey) Prefix() string { return PrefixDatabaseByID }

func (k *DatabaseIDKey) Encode() string {
	return strings.Join([]string{PrefixDatabaseByID, encodeID(k.DatabaseID)}, KeySeparator)
}

func (k *DatabaseIDKey) Decode(s string) error {
	segs, err := splitKey(s)
	if err != nil {
		return err
	}
	if err := segs.literal(0, PrefixDatabaseByID); err != nil {
		return err
	}
	id, err := segs.id(1)
	if err != nil {
		return err
	}
	if err := segs.absent(2); err != nil {
		return err
	}
	k.DatabaseID = id
	return nil
}

// TableKey maps (database id, table name) to the table's id record.
type TableKey struct {
	DatabaseID uint64
	Table      string
}

func (k *TableKey) Prefix() string { return PrefixTable }

func (k *TableKey) Encode() string {
	return strings.Join([]string{PrefixTable, encodeID(k.DatabaseID), Escape(k.Table)}, KeySeparator)
}

func (k *TableKey) Decode(s string) error {
	segs, err := splitKey(s)
	if err != nil {
		return err
	}
	if err := segs.literal(0, PrefixTable); err != nil {
		return err
	}
	dbID, err := segs.id(1)
	if err != nil {
		return err
	}
	table, err := segs.str(2)
	if err != nil {
		return err
	}
	if err := segs.absent(3); err != nil {
		return err
	}
	k.DatabaseID = dbID
	k.Table = table
	return nil
}

// TableIDKey maps a table id to its table record.
type TableIDKey struct {
	TableID uint64
}

func (k *TableIDKey) Prefix() string { return PrefixTableByID }

func (k *TableIDKey) Encode() string {
	return strings.Join([]string{PrefixTableByID, encodeID(k.TableID)}, KeySeparator)
}

func (k *TableIDKey) Decode(s string) error {
	segs, err := splitKey(s)
	if err != nil {
		return err
	}
	if err := segs.literal(0, PrefixTableByID); err != nil {
		return err
	}
	id, err := segs.id(1)
	if err != nil {
		return err
	}
	if err := segs.absent(2); err != nil {
		return err
	}
	k.TableID = id
	return nil
}

// TableCountKey maps a tenant to its table-count record.
type TableCountKey struct {
	Tenant string
}

func (k *TableCountKey) Prefix() string { return PrefixTableCount }

func (k *TableCountKey) Encode() string {
	return strings.Join([]string{PrefixTableCount, Escape(k.Tenant)}, KeySeparator)
}

func (k *TableCountKey) Decode(s string) error {
	segs, err := splitKey(s)
	if err != nil {
		return err
	}
	if err := segs.literal(0, PrefixTableCount); err != nil {
		return err
	}
	tenant, err := segs.str(1)
	if err != nil {
		return err
	}
	if err := segs.absent(2); err != nil {
		return err
	}
	k.Tenant = tenant
	return nil
}

// ParseKey routes a flat string key to the variant registered for its prefix
// segment. A key whose first segment matches no registered prefix decodes as
// the untyped StringKey.
func ParseKey(s string) (Key, error) {
	segs, err := splitKey(s)
	if err != nil {
		return nil, err
	}

	var k Key
	switch segs.elts[0] {
	case PrefixDatabase:
		k = &DatabaseKey{}
	case PrefixDatabaseByID:
		k = &DatabaseIDKey{}
	case PrefixTable:
		k = &TableKey{}
	case PrefixTableByID:
		k = &TableIDKey{}
	case PrefixTableCount:
		k = &TableCountKey{}
	default:
		sk := StringKey("")
		if err := sk.Decode(s); err != nil {
			return nil, err
		}
		return &sk, nil
	}

	// every prefixed family carries at least one payload segment
	if err := segs.atLeast(2); err != nil {
		return nil, err
	}
	if err := k.Decode(s); err != nil {
		return nil, err
	}
	return k, nil
}

func encodeID(id uint64) string {
	// ids stay inside the unescaped alphabet, no escaping needed
	return strconv.FormatUint(id, 10)
}
