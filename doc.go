/*
 *
 * Copyright 2023 FuseDB authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# MetaServer: the replicated metadata kv layer

## What it is

The metadata layer of an analytical database: catalog entities (databases,
tables, id mappings, counters) stored as versioned key-value records behind
a consensus log.

## Data Model

* Structured keys, a closed set of typed key variants (database by name,
database by id, table by database+name, table by id, tenant table count),
each encoding to a flat string: a constant prefix segment plus escaped
payload segments joined by '/'.

* Records, opaque byte payloads stamped with a state-wide monotonic seq and
optional expiration metadata. Expired records read as absent.

* Conditional writes, gated on the current seq (any / exact / at-least). A
failed condition is a successful no-op reported through prev == result,
never an error.

* Transactions, a list of seq predicates evaluated against one snapshot
choosing a then or else branch; the chosen branch commits atomically as a
single log entry.

## Architecture

* kvapi - the contract: key codec, request/reply types, the KVApi interface

* statemachine - replicated state over rocksdb, fed committed log entries

* raftlog - single-voter etcd raft group binding proposals to apply results

* node - KVApi over the log: linearized writes, possibly-stale local reads

* server/cmd - http surface (blobstore rpc router), config, audit, metrics

* client - typed http client speaking the same KVApi contract

### Replication

writes travel the consensus log and return the applied result; reads are
served from the local replica and may lag acknowledged writes

### Storage

one rocksdb instance, kv records and local bookkeeping in separate column
families, one write batch per applied mutation

*/
package metaserver
