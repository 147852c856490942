package ledger

import (
	"context"
	"errors"
	"testing"
)

const (
	errStoreMessage        = "store error"
	caseAccountLookupError = "account lookup error"
	caseLockAccountError   = "lock account error"
	caseSumBalanceError    = "sum balance error"
	caseInsertEntryError   = "insert entry error"
	caseListEntriesError   = "list entries error"
	caseFindEntryError     = "find entry error"
	errorMismatchMessage   = "expected %v, got %v"
)

var errStoreFailure = errors.New(errStoreMessage)

func TestBalanceReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: caseAccountLookupError, configure: func(store *stubStore) { store.getAccountError = errStoreFailure }},
		{name: caseSumBalanceError, configure: func(store *stubStore) { store.sumBalanceError = errStoreFailure }},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Balance(context.Background(), personalScope(test))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}

func TestDebitReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: caseAccountLookupError, configure: func(store *stubStore) { store.getAccountError = errStoreFailure }},
		{name: caseLockAccountError, configure: func(store *stubStore) { store.lockAccountError = errStoreFailure }},
		{name: caseSumBalanceError, configure: func(store *stubStore) { store.sumBalanceError = errStoreFailure }},
		{name: caseInsertEntryError, configure: func(store *stubStore) { store.insertEntryError = errStoreFailure }},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			balance := int64(500)
			store.sumBalanceOverride = &balance
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Debit(context.Background(), personalScope(test), mustPoints(test, 10), drawPosting(test))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}

func TestCreditReturnsStoreErrors(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name      string
		configure func(store *stubStore)
	}{
		{name: caseAccountLookupError, configure: func(store *stubStore) { store.getAccountError = errStoreFailure }},
		{name: caseInsertEntryError, configure: func(store *stubStore) { store.insertEntryError = errStoreFailure }},
	}

	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			testCase.configure(store)
			service := mustNewService(test, store)

			_, err := service.Credit(context.Background(), personalScope(test), mustPoints(test, 10), grantPosting(test, idempotencyValue))
			if !errors.Is(err, errStoreFailure) {
				test.Fatalf(errorMismatchMessage, errStoreFailure, err)
			}
		})
	}
}

func TestListAndFindReturnStoreErrors(test *testing.T) {
	test.Parallel()
	test.Run(caseListEntriesError, func(test *testing.T) {
		test.Parallel()
		store := newStubStore(test)
		store.listEntriesError = errStoreFailure
		service := mustNewService(test, store)
		if _, err := service.ListEntries(context.Background(), personalScope(test), 100, 10); !errors.Is(err, errStoreFailure) {
			test.Fatalf(errorMismatchMessage, errStoreFailure, err)
		}
	})
	test.Run(caseFindEntryError, func(test *testing.T) {
		test.Parallel()
		store := newStubStore(test)
		store.findEntryError = errStoreFailure
		service := mustNewService(test, store)
		if _, err := service.FindByIdempotencyKey(context.Background(), personalScope(test), mustIdempotencyKey(test, idempotencyValue)); !errors.Is(err, errStoreFailure) {
			test.Fatalf(errorMismatchMessage, errStoreFailure, err)
		}
	})
}
