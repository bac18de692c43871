package components

import (
	"context"
	"io"
	"mime"
	"path"

	"github.com/aretw0/cocoon/pkg/pipeline"
	"github.com/aretw0/cocoon/pkg/validity"
)

// ResourceReader copies the bytes of src to the response.
type ResourceReader struct{}

// MimeType returns the "mime-type" parameter or a guess from the extension.
func (ResourceReader) MimeType(s pipeline.Setup) string {
	if mt := s.Params.Get("mime-type", ""); mt != "" {
		return mt
	}
	return mime.TypeByExtension(path.Ext(s.Src))
}

func (ResourceReader) Read(ctx context.Context, s pipeline.Setup, w io.Writer) error {
	src, err := resolve(ctx, s)
	if err != nil {
		return err
	}
	rc, err := src.Open(ctx)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = io.Copy(w, rc)
	return err
}

func (ResourceReader) Validity(ctx context.Context, s pipeline.Setup) validity.Validity {
	src, err := resolve(ctx, s)
	if err != nil {
		return nil
	}
	return src.Validity()
}
