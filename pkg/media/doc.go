// Package media stores user images in S3-compatible object storage.
//
// Two buckets are used: avatars and images. Objects are keyed
// <user id>/<uuid>.<ext> and served from QUILL_PUBLIC_MEDIA_URL:
//
//	url, err := svc.Upload(ctx, media.BucketAvatars, userID, header.Filename, contentType, file)
//	switch {
//	case errors.Is(err, media.ErrTooLarge), errors.Is(err, media.ErrInvalidType):
//		httputil.WriteValidationError(w, "file", err.Error())
//	}
//
// Avatars larger than 1MiB are resized to fit 800x800 and re-encoded as
// JPEG before they are stored.
package media
