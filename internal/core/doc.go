// Package core provides the domain models for predictive test selection.
//
// # Design Principles
//
// All structures in this package adhere to the following constraints:
//
//  1. Identity is content-based: a class is identified by its fully-qualified
//     name and the digest of its compiled bytes, never by timestamps.
//  2. Every collection exposed to callers has a deterministic order.
//  3. Reason codes are stable strings; they are part of the decisions.log
//     format and must not be renamed.
//
// # Core Types
//
// ClassFile: a compiled class discovered under one of the class directories.
// Fingerprint: the content hash of one class in one snapshot.
// Fingerprints: the full class name -> hash mapping of a snapshot.
// CoverageSet: the classes a test exercised during its last execution.
// Decision: the EXECUTE/SKIP verdict and its reason for one test.
package core
