package workeringest

import (
	"errors"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/qserv-ingest/czarctl/internal/modreq"
)

// CSVIngestDeps wires the collaborators a multipart CSV contribution
// needs: the transaction/schema catalog, the contribution ledger, and
// the temp-file/LOAD DATA loader.
type CSVIngestDeps struct {
	Meta   MetadataStore
	Store  *Store
	Loader *Loader

	DefaultCharsetName    string
	DefaultMaxNumWarnings uint
}

// CSVIngestHandler implements C9 (spec.md §4.9): one multipart "rows"
// file per request, parsed per dialect, streamed unmodified into a
// temp file, then loaded with MySQL LOAD DATA. Grounded on
// IngestFileHttpSvcMod::onStartOfFile/onFileData/onEndOfFile/onEndOfBody.
func CSVIngestHandler(cfg modreq.Config, workerName string, deps CSVIngestDeps) gin.HandlerFunc {
	spec := modreq.Spec{AuthType: modreq.AuthRequired}

	return modreq.UploadHandler(cfg, spec, func(body map[string]interface{}, isAdmin bool) modreq.UploadHooks {
		contrib := &Contrib{Worker: workerName}
		var file *os.File
		var counter rowCounter

		return modreq.UploadHooks{
			OnStartOfFile: func(fieldName, fileName, contentType string) error {
				if fieldName != "rows" {
					return fmt.Errorf("invalid argument: unexpected file field %q, expected \"rows\"", fieldName)
				}
				if contrib.TmpFile != "" {
					return fmt.Errorf("the service only allows one file per request")
				}

				if err := populateContribFromBody(contrib, stringFieldGetter(body), deps.DefaultCharsetName, deps.DefaultMaxNumWarnings); err != nil {
					return err
				}
				contrib.URL = "data-csv:///" + fileName

				trans, err := deps.Meta.Transaction(contrib.TransactionID)
				if err != nil {
					return err
				}
				contrib.Database = trans.Database

				columns, err := deps.Meta.TableColumns(contrib.Database, contrib.Table)
				if err != nil {
					return err
				}
				if len(columns) == 0 || columns[0].Name != "qserv_trans_id" {
					contrib.Failed = true
					contrib.Error = "incomplete or missing table schema"
					deps.Store.Persist(contrib)
					return errors.New(contrib.Error)
				}

				if trans.State != TransactionStateStarted {
					return fmt.Errorf("transactionId=%d is not active", contrib.TransactionID)
				}

				contrib.RetryAllowed = true
				contrib.State = ContribCreated
				if err := deps.Store.Persist(contrib); err != nil {
					return err
				}

				f, err := deps.Loader.OpenFile(contrib)
				if err != nil {
					contrib.Failed = true
					contrib.Error = err.Error()
					deps.Store.Persist(contrib)
					return err
				}
				file = f
				counter = rowCounter{dialect: contrib.Dialect}
				contrib.State = ContribStarted
				return deps.Store.Persist(contrib)
			},
			OnFileData: func(fieldName string, data []byte) error {
				if file == nil {
					return fmt.Errorf("no file was opened")
				}
				if _, err := file.Write(data); err != nil {
					return err
				}
				contrib.NumBytes += uint64(len(data))
				contrib.NumRows += counter.Feed(data)
				return nil
			},
			OnEndOfFile: func(fieldName string) error {
				if file == nil {
					return fmt.Errorf("no file was opened")
				}
				contrib.NumRows += counter.Flush()
				contrib.State = ContribRead
				return deps.Store.Persist(contrib)
			},
			OnEndOfBody: func(c *gin.Context, err error) {
				if file != nil {
					file.Close()
				}
				if err != nil {
					if contrib.TmpFile != "" {
						os.Remove(contrib.TmpFile)
						contrib.Failed = true
						contrib.Error = err.Error()
						deps.Store.Persist(contrib)
					}
					modreq.WriteFail(c, err.Error(), contrib.ErrorExt())
					return
				}
				if contrib.TmpFile == "" {
					modreq.WriteFail(c, "no file was sent in the request", nil)
					return
				}

				contrib.RetryAllowed = false
				if loadErr := deps.Loader.LoadDataIntoTable(c.Request.Context(), contrib); loadErr != nil {
					contrib.Failed = true
					contrib.Error = fmt.Sprintf("MySQL load failed, ex: %v", loadErr)
					deps.Store.Persist(contrib)
					os.Remove(contrib.TmpFile)
					modreq.WriteFail(c, contrib.Error, contrib.ErrorExt())
					return
				}
				contrib.State = ContribLoaded
				deps.Store.Persist(contrib)
				os.Remove(contrib.TmpFile)
				modreq.WriteOk(c, map[string]any{"contrib": contrib.ToJSON()}, "")
			},
		}
	})
}
