// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

// Package idoit is a client for the JSON-RPC API of the i-doit CMDB.
//
// It batches calls into as few HTTP round trips as possible, caches the
// object type and category schema of a session, converts category field
// values between their wire form and typed Go values, and tracks which
// fields of an object changed so that saving writes only the difference.
//
// # Quick Start
//
//	client, err := idoit.NewClient(
//	    "https://cmdb.example.com/src/jsonrpc.php",
//	    idoit.APIKey("c1ia5q"),
//	    idoit.Username("admin"),
//	    idoit.Password("secret"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	ctx := context.Background()
//	obj, err := client.LoadObject(ctx, 1234)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	person, err := obj.Values(ctx, "C__CATS__PERSON")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(person.String("mail"))
//
//	if err := person.Set("phone_company", "+49 431 880"); err != nil {
//	    log.Fatal(err)
//	}
//	if _, err := obj.Save(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Profiles
//
// Connection settings can live in a TOML or YAML profile file, one table per
// instance:
//
//	[main]
//	url = "https://cmdb.example.com/src/jsonrpc.php"
//	apikey = "c1ia5q"
//	username = "admin"
//	password = "secret"
//
// CMDB_URL, CMDB_APIKEY, CMDB_USERNAME and CMDB_PASSWORD override the file.
//
//	p, err := idoit.LoadProfile("cmdbrc.toml", "main")
//	client, err := idoit.NewClientFromProfile(p)
//
// # Batching
//
// BatchCall takes calls keyed by caller chosen ids and splits them into
// chunks of MaxBatchSize. Per-entry RPC errors either abort with the first
// error (the default) or are collected per entry:
//
//	res, err := client.BatchCall(ctx, requests, idoit.OnError(idoit.ErrorPolicyCollect))
//
// # Value Types
//
// Each category field has an AttributeType: a ValueKind (int, text, double,
// money, date, datetime, gps, dialog) and a list flag. Types come from the
// versioned rule tables embedded in the package, or from a directory set
// with RulesDir, and fall back to the field's data and info type reported by
// cmdb.category_info. Fields without a resolvable type are left out of the
// category.
//
// # Thread Safety
//
// Client, its schema cache and its transport are safe for concurrent use.
// Concurrent schema requests for the same type or category share one fetch.
// Objects, CategoryValues and CategoryValuesList have a single owner.
package idoit
