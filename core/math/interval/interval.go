// Copyright (C) 2017 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package interval implements algorithms over sorted lists of
// non-overlapping intervals.
package interval

// List is the interface to an object that can be used as an interval list by
// the algorithms in this package.
type List interface {
	// Length returns the number of elements in the list
	Length() int
	// GetSpan returns the span for the element at index in the list
	GetSpan(index int) U64Span
}

// MutableList is a list that can be mutated by the algorithms in this package.
type MutableList interface {
	List
	// SetSpan sets the span for the element at index in the list
	SetSpan(index int, span U64Span)
	// New creates a new element at the specified index with the specified span
	New(index int, span U64Span)
	// Copy count list entries
	Copy(to, from, count int)
	// Resize adjusts the length of the array
	Resize(length int)
}

// Predicate is used as the condition for a search over a list.
type Predicate func(test U64Span) bool

// IndexOf returns the index of the span the value is a part of, or -1 if the
// value is not found in the list.
func IndexOf(l List, value uint64) int {
	return findSpanFor(l, value)
}

// Contains returns true if the value lies inside any span of the list.
func Contains(l List, value uint64) bool {
	return findSpanFor(l, value) >= 0
}

// Merge adds a span to the list, merging it with existing spans it overlaps.
// If joinAdj is true, then any immediately adjacent spans are also merged.
// It returns the index of the span in the list that now encompasses the
// merged span.
func Merge(l MutableList, span U64Span, joinAdj bool) int {
	return merge(l, span, joinAdj)
}

// Replace cuts the span out of any existing spans in the list, and then adds
// the span itself, returning the index at which it was added.
func Replace(l MutableList, span U64Span) int {
	index, span := cut(l, span, true)
	l.New(index, span)
	return index
}

// Remove cuts the span out of any existing spans in the list.
func Remove(l MutableList, span U64Span) {
	cut(l, span, false)
}

// Intersect finds the intervals from the list that overlap with the span.
// It returns the index of the first interval and the count of intervals that
// overlap. The count is 0 if no intervals overlap.
func Intersect(l List, span U64Span) (first, count int) {
	s := intersection{}
	s.intersect(l, span, false)
	return s.lowIndex, s.overlap
}

// Search returns the index of the first span in the list for which the
// predicate returns true, or the length of the list if it never does.
func Search(l List, t Predicate) int {
	return search(l, t)
}
