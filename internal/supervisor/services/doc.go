// Searchsync - Search Performance Analytics Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/searchsync

// Package services adapts the process's long-lived components to
// suture.Service. Each wrapper depends on a small interface rather than the
// concrete type so it can be tested with fakes, and implements
// fmt.Stringer so supervisor logs name the service.
package services
