package loader

import "context"

// GraphFileType selects the chunking and extraction strategy applied to
// a file during indexing.
type GraphFileType string

const (
	// GraphFileTypeDocument is prose content chunked by token count.
	GraphFileTypeDocument GraphFileType = "document"
	// GraphFileTypeCSV is tabular content chunked row-wise.
	GraphFileTypeCSV GraphFileType = "csv"
	// GraphFileTypeFile is opaque content represented only by its
	// description text.
	GraphFileTypeFile GraphFileType = "file"
)

// GraphFile is one input to graph construction. The struct holds
// metadata only; the content itself comes from the attached Loader on
// demand.
type GraphFile struct {
	ID             string
	Name           string
	FilePath       string
	FileType       GraphFileType
	MaxTokens      int
	CustomEntities []string
	Loader         GraphFileLoader
	Description    string
}

// NewGraphFileParams carries the common fields shared by all GraphFile
// constructors.
type NewGraphFileParams struct {
	ID             string
	Name           string
	FilePath       string
	MaxTokens      int
	CustomEntities []string
	Loader         GraphFileLoader
}

func newGraphFile(params NewGraphFileParams, fileType GraphFileType) GraphFile {
	return GraphFile{
		ID:             params.ID,
		Name:           params.Name,
		FilePath:       params.FilePath,
		FileType:       fileType,
		MaxTokens:      params.MaxTokens,
		CustomEntities: params.CustomEntities,
		Loader:         params.Loader,
	}
}

// NewGraphDocumentFile builds a GraphFile for prose sources: PDFs, Word
// documents, web pages, or plain text.
func NewGraphDocumentFile(params NewGraphFileParams) GraphFile {
	return newGraphFile(params, GraphFileTypeDocument)
}

// NewGraphCSVFile builds a GraphFile for tabular sources, .csv files
// and spreadsheet sheets rendered as CSV.
func NewGraphCSVFile(params NewGraphFileParams) GraphFile {
	return newGraphFile(params, GraphFileTypeCSV)
}

// NewGraphGenericFile builds a GraphFile for content that cannot be
// parsed into text. The description stands in for the file body during
// indexing.
func NewGraphGenericFile(params NewGraphFileParams, description string) GraphFile {
	f := newGraphFile(params, GraphFileTypeFile)
	f.Description = description
	return f
}

// GetText returns the raw text of the file. Generic files answer with
// their description; everything else goes through the Loader.
func (f *GraphFile) GetText(ctx context.Context) ([]byte, error) {
	if f.FileType == GraphFileTypeFile {
		return []byte(f.Description), nil
	}
	return f.Loader.GetFileText(ctx, *f)
}

// GraphFileLoader loads the contents of a GraphFile. Implementations
// exist for local disk, object storage, and the web.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
}
