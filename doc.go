// Copyright 2023 The CubeFS Authors.
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

/*
 *
 * Copyright 2023 CubeFS authors.
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

# Mantle: scriptable metadata load balancing

## What it does

Every metadata server rank periodically runs an operator supplied Lua policy
against a snapshot of the cluster load, and exports load to its peers based on
the targets the policy returns.

## Cycle

* fetch, the script named by the filesystem balancer setting is read from the object store

* execute, the script runs in a sandbox that only exposes the mds metrics table, whoami and BAL_LOG

* validate, the result must be a list of non-negative integral loads, one per active rank

* apply, overloaded ranks export the surplus to the least loaded ranks

* report, exactly one cluster log record per cycle, success or failure

A failed cycle never moves load. The next tick starts from scratch.

## Cluster log messages

* mantle balancer version changed: <name>

* no load migrated; mantle failed for balancer=<name> : (<errno>) <text>

## Building Blocks

* gopher-lua
* Minio / S3
* Etcd
* Rocksdb
* Kafka
* Prometheus

*/

package mantle
