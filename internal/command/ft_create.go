package command

import (
	"strings"

	"github.com/Aman-CERP/kvsearch/internal/config"
	kverrors "github.com/Aman-CERP/kvsearch/internal/errors"
	"github.com/Aman-CERP/kvsearch/internal/index"
	"github.com/Aman-CERP/kvsearch/internal/schema"
)

// ftCreate implements FT.CREATE:
//
//	FT.CREATE name [ON HASH|JSON] [PREFIX n p...] [LANGUAGE l] [SCORE x]
//	  [NOOFFSETS|WITHOFFSETS] [NOSTEM] [STOPWORDS n w...]
//	  SCHEMA (field [AS alias] TYPE options)+
func (d *Dispatcher) ftCreate(args []string) (Reply, error) {
	it := newArgIter(args)
	name, err := it.next()
	if err != nil {
		return nil, kverrors.InvalidArgument("missing index name")
	}

	dataType := schema.DataHash
	var prefixes []string
	textOpts := index.TextOptions{}

	for !it.done() {
		if v, _ := it.peek(); strings.EqualFold(v, "SCHEMA") {
			break
		}
		switch {
		case it.matchKeyword("ON"):
			v, err := it.next()
			if err != nil {
				return nil, err
			}
			switch strings.ToUpper(v) {
			case "HASH":
				dataType = schema.DataHash
			case "JSON":
				dataType = schema.DataJSON
			default:
				return nil, kverrors.InvalidArgument("ON must be HASH or JSON, got `%s`", v)
			}
		case it.matchKeyword("PREFIX"):
			n, err := it.nextInt("PREFIX count")
			if err != nil {
				return nil, err
			}
			if int64(n) > config.MaxPrefixes.Get() {
				return nil, kverrors.InvalidArgument("too many prefixes: max %d", config.MaxPrefixes.Get())
			}
			for i := 0; i < n; i++ {
				p, err := it.next()
				if err != nil {
					return nil, err
				}
				prefixes = append(prefixes, p)
			}
		case it.matchKeyword("LANGUAGE"):
			if _, err := it.next(); err != nil {
				return nil, err
			}
		case it.matchKeyword("SCORE"):
			if _, err := it.nextFloat("SCORE"); err != nil {
				return nil, err
			}
		case it.matchKeyword("NOOFFSETS"), it.matchKeyword("WITHOFFSETS"):
			// Offsets are always maintained; the flags parse for
			// compatibility.
		case it.matchKeyword("NOSTEM"):
			textOpts.NoStem = true
		case it.matchKeyword("STOPWORDS"):
			n, err := it.nextInt("STOPWORDS count")
			if err != nil {
				return nil, err
			}
			words := make([]string, 0, n)
			for i := 0; i < n; i++ {
				w, err := it.next()
				if err != nil {
					return nil, err
				}
				words = append(words, w)
			}
			textOpts.Stopwords = words
		default:
			v, _ := it.next()
			return nil, kverrors.InvalidArgument("unknown FT.CREATE argument `%s`", v)
		}
	}

	if !it.matchKeyword("SCHEMA") {
		return nil, kverrors.InvalidArgument("missing SCHEMA clause")
	}

	s, err := schema.New(name, 0, dataType, prefixes)
	if err != nil {
		return nil, err
	}
	if err := d.parseSchemaFields(it, s, textOpts); err != nil {
		return nil, err
	}
	if err := d.checkACL(s); err != nil {
		return nil, err
	}
	if err := d.Schemas.Create(s); err != nil {
		return nil, err
	}
	return "OK", nil
}

func (d *Dispatcher) parseSchemaFields(it *argIter, s *schema.Schema, textOpts index.TextOptions) error {
	count := 0
	for !it.done() {
		identifier, err := it.next()
		if err != nil {
			return err
		}
		alias := identifier
		if it.matchKeyword("AS") {
			alias, err = it.next()
			if err != nil {
				return err
			}
		}
		fieldType, err := it.next()
		if err != nil {
			return kverrors.InvalidArgument("missing type for field `%s`", identifier)
		}
		switch strings.ToUpper(fieldType) {
		case "NUMERIC":
			err = s.AddNumericAttribute(alias, identifier)
		case "TAG":
			separator := byte(',')
			caseSensitive := false
			for {
				if it.matchKeyword("SEPARATOR") {
					sep, serr := it.next()
					if serr != nil {
						return serr
					}
					if len(sep) != 1 {
						return kverrors.InvalidArgument("SEPARATOR must be a single character")
					}
					separator = sep[0]
					continue
				}
				if it.matchKeyword("CASESENSITIVE") {
					caseSensitive = true
					continue
				}
				break
			}
			err = s.AddTagAttribute(alias, identifier, separator, caseSensitive)
		case "TEXT":
			opts := textOpts
			for {
				if it.matchKeyword("NOSTEM") {
					opts.NoStem = true
					continue
				}
				break
			}
			err = s.AddTextAttribute(alias, identifier, opts)
		case "VECTOR":
			err = d.parseVectorField(it, s, alias, identifier)
		default:
			return kverrors.InvalidArgument("unknown field type `%s`", fieldType)
		}
		if err != nil {
			return err
		}
		count++
	}
	if count == 0 {
		return kverrors.InvalidArgument("SCHEMA requires at least one field")
	}
	return nil
}

// parseVectorField parses `VECTOR FLAT|HNSW nargs (name value)...`.
func (d *Dispatcher) parseVectorField(it *argIter, s *schema.Schema, alias, identifier string) error {
	algo, err := it.next()
	if err != nil {
		return kverrors.InvalidArgument("missing vector algorithm")
	}
	nargs, err := it.nextInt("vector parameter count")
	if err != nil {
		return err
	}
	if nargs%2 != 0 {
		return kverrors.InvalidArgument("vector parameter count must be even")
	}
	cfg := index.VectorConfig{Metric: index.MetricL2}
	for i := 0; i < nargs; i += 2 {
		pname, err := it.next()
		if err != nil {
			return err
		}
		pvalue, err := it.next()
		if err != nil {
			return err
		}
		switch strings.ToUpper(pname) {
		case "DIM":
			cfg.Dimensions, err = parsePositiveInt("DIM", pvalue)
			if err != nil {
				return err
			}
			if int64(cfg.Dimensions) > config.MaxVectorDimensions.Get() {
				return kverrors.InvalidArgument("DIM exceeds max-vector-dimensions")
			}
		case "TYPE":
			if !strings.EqualFold(pvalue, "FLOAT32") {
				return kverrors.InvalidArgument("TYPE must be FLOAT32")
			}
		case "DISTANCE_METRIC":
			switch strings.ToUpper(pvalue) {
			case "L2":
				cfg.Metric = index.MetricL2
			case "IP":
				cfg.Metric = index.MetricIP
			case "COSINE":
				cfg.Metric = index.MetricCosine
			default:
				return kverrors.InvalidArgument("unknown DISTANCE_METRIC `%s`", pvalue)
			}
		case "M":
			cfg.M, err = parsePositiveInt("M", pvalue)
			if err != nil {
				return err
			}
			if int64(cfg.M) > config.MaxVectorM.Get() {
				return kverrors.InvalidArgument("M exceeds max-vector-m")
			}
		case "EF_CONSTRUCTION":
			cfg.EfConstruction, err = parsePositiveInt("EF_CONSTRUCTION", pvalue)
			if err != nil {
				return err
			}
			if int64(cfg.EfConstruction) > config.MaxVectorEfConstruction.Get() {
				return kverrors.InvalidArgument("EF_CONSTRUCTION exceeds max-vector-ef-construction")
			}
		case "EF_RUNTIME":
			cfg.EfRuntime, err = parsePositiveInt("EF_RUNTIME", pvalue)
			if err != nil {
				return err
			}
			if int64(cfg.EfRuntime) > config.MaxVectorEfRuntime.Get() {
				return kverrors.InvalidArgument("EF_RUNTIME exceeds max-vector-ef-runtime")
			}
		case "INITIAL_CAP":
			if _, err := parsePositiveInt("INITIAL_CAP", pvalue); err != nil {
				return err
			}
		default:
			return kverrors.InvalidArgument("unknown vector parameter `%s`", pname)
		}
	}
	if cfg.Dimensions == 0 {
		return kverrors.InvalidArgument("vector field requires DIM")
	}
	var vec index.Vector
	switch strings.ToUpper(algo) {
	case "FLAT":
		vec = index.NewFlat(cfg)
	case "HNSW":
		vec = index.NewHNSW(cfg)
	default:
		return kverrors.InvalidArgument("unknown vector algorithm `%s`", algo)
	}
	return s.AddVectorAttribute(alias, identifier, vec)
}

func parsePositiveInt(name, v string) (int, error) {
	it := newArgIter([]string{v})
	n, err := it.nextInt(name)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, kverrors.InvalidArgument("%s must be positive", name)
	}
	return n, nil
}
