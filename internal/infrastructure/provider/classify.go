package provider

import apperrors "github.com/loopwire/duet/pkg/errors"

// Classify maps a provider CallError onto the core's AppError taxonomy.
// A provider-reported Retriable flag governs retry-gated kinds (RateLimited,
// Timeout, Transient, and the unrecognized default) whenever the adapter
// sets it explicitly, overriding the kind's default — not just for an
// unrecognized kind — since an adapter may know a given failure is (or
// isn't) safe to retry better than the generic per-Kind default. Kinds that
// are fatal by definition (Auth, ContextTooLarge, InvalidRequest, Cancelled)
// ignore the flag: retrying them would not change the outcome.
func Classify(err error) *apperrors.AppError {
	callErr, ok := err.(*CallError)
	if !ok {
		return apperrors.Wrap(apperrors.CodeTransient, "unclassified provider error", err)
	}

	retriable := defaultRetriable(callErr.Kind)
	if callErr.Retriable != nil {
		retriable = *callErr.Retriable
	}

	switch callErr.Kind {
	case KindRateLimited:
		if !retriable {
			return apperrors.Wrap(apperrors.CodePermanentConfig, callErr.Detail, callErr)
		}
		return apperrors.NewRateLimited(callErr.Detail, callErr)
	case KindTimeout:
		if !retriable {
			return apperrors.Wrap(apperrors.CodePermanentConfig, callErr.Detail, callErr)
		}
		return apperrors.Wrap(apperrors.CodeTimeout, callErr.Detail, callErr)
	case KindContextTooLarge:
		return apperrors.Wrap(apperrors.CodeContextTooLarge, callErr.Detail, callErr)
	case KindAuth:
		return apperrors.Wrap(apperrors.CodeAuth, callErr.Detail, callErr)
	case KindInvalidRequest:
		return apperrors.Wrap(apperrors.CodeInvalidInput, callErr.Detail, callErr)
	case KindCancelled:
		return apperrors.Wrap(apperrors.CodeCancelled, callErr.Detail, callErr)
	case KindTransient:
		if !retriable {
			return apperrors.Wrap(apperrors.CodePermanentConfig, callErr.Detail, callErr)
		}
		return apperrors.NewTransient(callErr.Detail, callErr)
	default:
		if retriable {
			return apperrors.NewTransient(callErr.Detail, callErr)
		}
		return apperrors.Wrap(apperrors.CodePermanentConfig, callErr.Detail, callErr)
	}
}

func defaultRetriable(kind ErrorKind) bool {
	switch kind {
	case KindRateLimited, KindTransient, KindTimeout:
		return true
	default:
		return false
	}
}
